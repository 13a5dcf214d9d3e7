package blob

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockS3ForTests returns an S3 store whose HTTP transport is an in-memory
// fake bucket. Only the operations Store needs are emulated.
func NewMockS3ForTests() *S3 {
	rt := &fakeBucket{objects: make(map[string]fakeObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &S3{client: client, bucket: "mock-bucket", presign: s3.NewPresignClient(client)}
}

type fakeObject struct {
	body        []byte
	contentType string
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query().Get("prefix")), nil
	}

	switch req.Method {
	case http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return fakeResponse(http.StatusNotFound, nil, nil), nil
		}
		return fakeResponse(http.StatusOK, obj.headers(), nil), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			body := []byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return fakeResponse(http.StatusNotFound, http.Header{"Content-Type": {"application/xml"}}, body), nil
		}
		return fakeResponse(http.StatusOK, obj.headers(), obj.body), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			if decoded, err := decodeAWSChunked(body); err == nil {
				body = decoded
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type")}
		return fakeResponse(http.StatusOK, http.Header{"ETag": {`"etag"`}}, nil), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return fakeResponse(http.StatusNoContent, nil, nil), nil
	}
	return fakeResponse(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeBucket) list(prefix string) *http.Response {
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return fakeResponse(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func (o fakeObject) headers() http.Header {
	return http.Header{
		"Content-Length": {strconv.Itoa(len(o.body))},
		"Content-Type":   {o.contentType},
		"ETag":           {`"etag"`},
		"Last-Modified":  {time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
	}
}

func fakeResponse(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// decodeAWSChunked strips aws-chunked framing: "<hex size>[;ext]\r\n<data>\r\n"
// repeated until a zero-size chunk, followed by optional trailers.
func decodeAWSChunked(b []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeField := strings.TrimSpace(line)
		if i := strings.IndexByte(sizeField, ';'); i >= 0 {
			sizeField = sizeField[:i]
		}
		size, err := strconv.ParseInt(sizeField, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, err
		}
		if _, err := r.Discard(2); err != nil {
			return nil, err
		}
	}
}
