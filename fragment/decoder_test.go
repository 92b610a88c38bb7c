package fragment

import "testing"

func TestFeedSingleCompleteFragment(t *testing.T) {
	d := New()
	blocks := d.Feed(`<fragment target="#out(append)"><li>1</li></fragment>`)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].HTML != "<li>1</li>" {
		t.Errorf("unexpected HTML: %q", blocks[0].HTML)
	}
	if len(blocks[0].Target) != 1 || blocks[0].Target[0].Selector != "#out" {
		t.Errorf("unexpected target: %+v", blocks[0].Target)
	}
}

func TestFeedSplitAcrossChunksBuffersPartial(t *testing.T) {
	d := New()
	blocks := d.Feed(`<fragment target="#out(append)"><li>1</`)
	if len(blocks) != 0 {
		t.Fatalf("expected no complete blocks yet, got %d", len(blocks))
	}
	blocks = d.Feed(`li></fragment>`)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block after completing chunk, got %d", len(blocks))
	}
	if blocks[0].HTML != "<li>1</li>" {
		t.Errorf("unexpected reassembled HTML: %q", blocks[0].HTML)
	}
}

func TestFeedMultipleFragmentsInOneChunk(t *testing.T) {
	d := New()
	blocks := d.Feed(`<fragment target="#a(append)">x</fragment><fragment target="#b(append)">y</fragment>`)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].HTML != "x" || blocks[1].HTML != "y" {
		t.Errorf("unexpected order/content: %+v", blocks)
	}
}

func TestFeedFragmentWithNoTargetAttribute(t *testing.T) {
	d := New()
	blocks := d.Feed(`<fragment>fallback content</fragment>`)
	if len(blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(blocks))
	}
	if blocks[0].Target != nil {
		t.Errorf("expected nil target override, got %+v", blocks[0].Target)
	}
}

func TestFlushReturnsFallbackWhenNoFragmentsSeen(t *testing.T) {
	d := New()
	d.Feed("plain text response, no fragment wrapper")
	payload, ok := d.Flush()
	if !ok {
		t.Fatal("expected fallback flush to trigger")
	}
	if payload != "plain text response, no fragment wrapper" {
		t.Errorf("unexpected fallback payload: %q", payload)
	}
}

func TestFlushNoFallbackWhenFragmentsWereProcessed(t *testing.T) {
	d := New()
	d.Feed(`<fragment target="#a(append)">x</fragment>trailing whitespace text`)
	_, ok := d.Flush()
	if ok {
		t.Error("expected no fallback once at least one fragment was processed")
	}
}

func TestFlushNoFallbackWhenBufferEmpty(t *testing.T) {
	d := New()
	_, ok := d.Flush()
	if ok {
		t.Error("expected no fallback on an empty buffer")
	}
}

func TestHasProcessedAny(t *testing.T) {
	d := New()
	if d.HasProcessedAny() {
		t.Error("expected false before any fragment arrives")
	}
	d.Feed(`<fragment target="#a(append)">x</fragment>`)
	if !d.HasProcessedAny() {
		t.Error("expected true after a fragment is processed")
	}
}
