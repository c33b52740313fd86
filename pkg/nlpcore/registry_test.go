package nlpcore

import (
	"context"
	"testing"
)

type fakeExtractor struct {
	closed bool
}

func (f *fakeExtractor) Describe(ctx context.Context) ([]ProcessorDescriptor, error) {
	return []ProcessorDescriptor{{Name: "fake"}}, nil
}

func (f *fakeExtractor) ProcessBatch(ctx context.Context, records []SourceRecord) ([]PerRecordResult, error) {
	return nil, nil
}

func (f *fakeExtractor) Close() error {
	f.closed = true
	return nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewExtractorRegistry()
	fe := &fakeExtractor{}
	reg.Register("regex:crp_assessment", fe)

	got, ok := reg.Get("regex:crp_assessment")
	if !ok {
		t.Fatal("expected extractor to be found")
	}
	if got != fe {
		t.Fatal("expected the same extractor instance back")
	}
}

func TestRegistryMustGetUnknown(t *testing.T) {
	reg := NewExtractorRegistry()
	if _, err := reg.MustGet("nope"); err == nil {
		t.Fatal("expected error for unregistered binding name")
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewExtractorRegistry()
	reg.Register("z", &fakeExtractor{})
	reg.Register("a", &fakeExtractor{})

	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "z" {
		t.Fatalf("expected sorted names, got %v", names)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewExtractorRegistry()
	fe := &fakeExtractor{}
	reg.Register("regex:crp_assessment", fe)

	if errs := reg.CloseAll(); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	if !fe.closed {
		t.Fatal("expected extractor to be closed")
	}
}
