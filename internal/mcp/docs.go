package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

const serverInstructions = `tracceaqua tracks seafood batches from origin to consumer.

Core concepts:
- Record: one batch. Its source type (FARMED or WILD_CAPTURE) is fixed and selects the stage catalog.
- Stage: an ordered lifecycle step. Each accepted transition appends one history entry.
- Status: ACTIVE records accept transitions; COMPLETED, EXPIRED and RECALLED are final.
- Trace: the consumer view of a record with a VERIFIED or PENDING ledger anchor.

Workflow:
1) Call list_stages to see the catalog and the payload fields each stage needs.
2) create_record in an origin stage, then update_stage forward through the catalog.
3) Use get_trace to see what a consumer scanning the batch would see.

Docs:
- tracceaqua://docs/index
- tracceaqua://docs/stages
- tracceaqua://docs/errors
`

type docResource struct {
	URI         string
	Name        string
	Title       string
	Description string
	Content     string
}

func docResources() []docResource {
	return []docResource{
		{
			URI:         "tracceaqua://docs/index",
			Name:        "docs-index",
			Title:       "Documentation index",
			Description: "What each document covers",
			Content: `# tracceaqua docs

- tracceaqua://docs/stages: stage catalog per source type, with required payload fields.
- tracceaqua://docs/errors: error codes returned by tools and how to recover.
`,
		},
		{
			URI:         "tracceaqua://docs/stages",
			Name:        "docs-stages",
			Title:       "Stage catalog",
			Description: "Ordered stages per source type and their payload fields",
			Content:     stagesDoc(),
		},
		{
			URI:         "tracceaqua://docs/errors",
			Name:        "docs-errors",
			Title:       "Error codes",
			Description: "Tool error codes and recovery hints",
			Content: `# Error codes

- VALIDATION_FAILED: the stage payload is missing fields or has bad values. details lists each field.
- STAGE_NOT_APPLICABLE: the stage is not in the record's source type catalog.
- STAGE_OUT_OF_ORDER: the stage is not after the current stage. Admins may pass override=true.
- NOT_TRANSITIONABLE: the record is COMPLETED, EXPIRED or RECALLED.
- FORBIDDEN: your role may not perform this change on this record.
- CONFLICT: another writer kept winning. Retry.
- RECORD_NOT_FOUND / NOT_FOUND: no such record, or it is private to you.
`,
		},
	}
}

func stagesDoc() string {
	var b strings.Builder
	b.WriteString("# Stage catalog\n\nStages must be entered in catalog order. A record starts in any stage up to HARVEST.\n")
	for _, cat := range stage.Describe() {
		fmt.Fprintf(&b, "\n## %s\n\n", cat.SourceType)
		for _, info := range cat.Stages {
			origin := ""
			if info.Origin {
				origin = " (origin)"
			}
			fmt.Fprintf(&b, "%d. %s%s", info.Position+1, info.Stage, origin)
			if len(info.RequiredFields) > 0 {
				fmt.Fprintf(&b, ": %s", strings.Join(info.RequiredFields, ", "))
			} else {
				b.WriteString(": free-form data")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func registerDocResources(server *sdkmcp.Server) {
	for _, doc := range docResources() {
		server.AddResource(&sdkmcp.Resource{
			URI:         doc.URI,
			Name:        doc.Name,
			Title:       doc.Title,
			Description: doc.Description,
			MIMEType:    "text/markdown",
			Size:        int64(len(doc.Content)),
		}, func(_ context.Context, req *sdkmcp.ReadResourceRequest) (*sdkmcp.ReadResourceResult, error) {
			uri := doc.URI
			if req != nil && req.Params != nil && req.Params.URI != "" {
				uri = req.Params.URI
			}
			return &sdkmcp.ReadResourceResult{
				Contents: []*sdkmcp.ResourceContents{{
					URI:      uri,
					MIMEType: "text/markdown",
					Text:     doc.Content,
				}},
			}, nil
		})
	}
}
