package contracts

import (
	"context"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"havenhomes/pkg/domain"
)

type stubSource struct {
	doc   []byte
	trail []byte
}

func (s *stubSource) SignedDocument(context.Context, string, domain.ContractPack) ([]byte, error) {
	return s.doc, nil
}

func (s *stubSource) AuditTrail(context.Context, string, domain.ContractPack) ([]byte, error) {
	return s.trail, nil
}

type memoryBucket struct {
	objects map[string][]byte
}

func (b *memoryBucket) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[key] = data
	return nil
}

func (b *memoryBucket) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *memoryBucket) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.local/" + key + "?sig=test", nil
}

func (b *memoryBucket) Delete(_ context.Context, key string) error {
	delete(b.objects, key)
	return nil
}

func TestArchivePackRejectsCorruptDocument(t *testing.T) {
	bucket := &memoryBucket{}
	a := NewArchive(&stubSource{doc: []byte("not a pdf")}, bucket)
	if err := a.ArchivePack(context.Background(), "b-1", domain.PackAgreement); err == nil {
		t.Fatal("expected corrupt document to abort the archive")
	}
	if len(bucket.objects) != 0 {
		t.Fatalf("nothing should be uploaded on corrupt download, got %d objects", len(bucket.objects))
	}
}

func TestArchivedDocumentsAndPurge(t *testing.T) {
	bucket := &memoryBucket{objects: map[string][]byte{
		"contracts/b-1/agreement.pdf":       []byte("pdf"),
		"contracts/b-1/agreement.audit.txt": []byte("trail"),
		"contracts/b-2/final.pdf":           []byte("pdf"),
	}}
	a := NewArchive(&stubSource{}, bucket)
	ctx := context.Background()

	docs, err := a.ArchivedDocuments(ctx, "b-1")
	if err != nil {
		t.Fatalf("archived documents: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("documents = %d, want 2: %v", len(docs), docs)
	}
	for _, doc := range docs {
		if !strings.HasPrefix(doc.Key, "contracts/b-1/") {
			t.Fatalf("listing crossed builds: %q", doc.Key)
		}
		if doc.URL == "" {
			t.Fatalf("missing download link for %q", doc.Key)
		}
	}

	if err := a.Purge(ctx, "b-1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if len(bucket.objects) != 1 {
		t.Fatalf("objects after purge = %d, want the other build's 1", len(bucket.objects))
	}
	if _, ok := bucket.objects["contracts/b-2/final.pdf"]; !ok {
		t.Fatal("purge removed another build's artifact")
	}
}

func TestExtractAuditEvents(t *testing.T) {
	page := []byte(`<html><body>
		<h1>Audit trail</h1>
		<ul>
			<li class="audit-event">Document  viewed by
				buyer@example.com</li>
			<li class="audit-event signed">Signed by buyer@example.com</li>
			<li class="footnote">Generated automatically</li>
		</ul>
	</body></html>`)
	events := ExtractAuditEvents(page)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2: %v", len(events), events)
	}
	if events[0] != "Document viewed by buyer@example.com" {
		t.Fatalf("whitespace not collapsed: %q", events[0])
	}
	if events[1] != "Signed by buyer@example.com" {
		t.Fatalf("unexpected second event: %q", events[1])
	}
}

func TestExtractAuditEventsEmptyPage(t *testing.T) {
	if events := ExtractAuditEvents([]byte("<html><body></body></html>")); len(events) != 0 {
		t.Fatalf("expected no events, got %v", events)
	}
}
