package contracts

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"havenhomes/pkg/domain"
	"havenhomes/pkg/storage"
)

// documentSource is the slice of the e-signature client archival needs.
type documentSource interface {
	SignedDocument(ctx context.Context, buildID string, pack domain.ContractPack) ([]byte, error)
	AuditTrail(ctx context.Context, buildID string, pack domain.ContractPack) ([]byte, error)
}

// Archive copies signed artifacts out of the provider into our own object
// storage. The provider purges documents after its retention window, so a
// pack's artifacts are copied out as part of completing it.
type Archive struct {
	source documentSource
	bucket storage.ObjectStore
}

// downloadURLTTL bounds how long a back-office download link stays valid.
const downloadURLTTL = 15 * time.Minute

func NewArchive(source documentSource, bucket storage.ObjectStore) *Archive {
	return &Archive{source: source, bucket: bucket}
}

// ArchivePack fetches the signed PDF and the audit trail for a pack and
// uploads both. The PDF is validated before upload; a corrupt download
// aborts the archive so the next completion signal retries it.
func (a *Archive) ArchivePack(ctx context.Context, buildID string, pack domain.ContractPack) error {
	doc, err := a.source.SignedDocument(ctx, buildID, pack)
	if err != nil {
		return fmt.Errorf("fetch signed document: %w", err)
	}
	if err := validatePDF(doc); err != nil {
		return fmt.Errorf("signed document for %s/%s: %w", buildID, pack, err)
	}
	docKey := buildPrefix(buildID) + string(pack) + ".pdf"
	if err := a.bucket.Put(ctx, docKey, bytes.NewReader(doc), int64(len(doc)), "application/pdf"); err != nil {
		return fmt.Errorf("archive signed document: %w", err)
	}

	trail, err := a.source.AuditTrail(ctx, buildID, pack)
	if err != nil {
		return fmt.Errorf("fetch audit trail: %w", err)
	}
	events := ExtractAuditEvents(trail)
	summary := strings.Join(events, "\n")
	auditKey := buildPrefix(buildID) + string(pack) + ".audit.txt"
	if err := a.bucket.Put(ctx, auditKey, strings.NewReader(summary), int64(len(summary)), "text/plain"); err != nil {
		return fmt.Errorf("archive audit trail: %w", err)
	}
	return nil
}

// ArchivedDocument is one stored artifact with a time-limited download URL.
type ArchivedDocument struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// ArchivedDocuments lists a build's stored artifacts with presigned download
// links for back-office review.
func (a *Archive) ArchivedDocuments(ctx context.Context, buildID string) ([]ArchivedDocument, error) {
	keys, err := a.bucket.List(ctx, buildPrefix(buildID))
	if err != nil {
		return nil, fmt.Errorf("list archived documents: %w", err)
	}
	docs := make([]ArchivedDocument, 0, len(keys))
	for _, key := range keys {
		url, err := a.bucket.PresignGet(ctx, key, downloadURLTTL)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", key, err)
		}
		docs = append(docs, ArchivedDocument{Key: key, URL: url})
	}
	return docs, nil
}

// Purge removes every archived artifact of a build, e.g. after an admin
// removes the build itself.
func (a *Archive) Purge(ctx context.Context, buildID string) error {
	keys, err := a.bucket.List(ctx, buildPrefix(buildID))
	if err != nil {
		return fmt.Errorf("list archived documents: %w", err)
	}
	for _, key := range keys {
		if err := a.bucket.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
	}
	return nil
}

func buildPrefix(buildID string) string {
	return "contracts/" + buildID + "/"
}

// validatePDF rejects downloads that are not parseable PDFs with at least
// one page.
func validatePDF(data []byte) error {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("parse pdf: %w", err)
	}
	if reader.NumPage() < 1 {
		return fmt.Errorf("pdf has no pages")
	}
	return nil
}

// ExtractAuditEvents pulls the event rows out of the provider's HTML audit
// page. Each <li> or table row with the "audit-event" class becomes one line.
func ExtractAuditEvents(page []byte) []string {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil
	}
	var events []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "audit-event") {
			if text := nodeText(n); text != "" {
				events = append(events, text)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return events
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

// nodeText flattens the text content of a node, collapsing whitespace.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}
