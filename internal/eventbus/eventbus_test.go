package eventbus

import "testing"

func TestBackpressureWarningBoundary(t *testing.T) {
	b := New(Options{Capacity: 10, PipelinePolicy: DropOldest, WarnThresholdPct: 90})
	opSub := b.SubscribeOperational()
	_ = b.SubscribePipeline() // holds published events so the pipeline queue fills

	for i := 0; i < 9; i++ {
		b.PublishPipeline(MarketsScored{MarketsScored: i})
	}
	select {
	case <-opSub.C:
		t.Fatalf("expected no warning after 9 publishes")
	default:
	}

	b.PublishPipeline(MarketsScored{MarketsScored: 9})

	select {
	case ev := <-opSub.C:
		w, ok := ev.(BackpressureWarning)
		if !ok {
			t.Fatalf("expected BackpressureWarning, got %T", ev)
		}
		if w.CurrentSize != 9 || w.Capacity != 10 {
			t.Fatalf("expected current_size=9 capacity=10, got %+v", w)
		}
	default:
		t.Fatalf("expected exactly one warning on the 10th publish")
	}

	select {
	case ev := <-opSub.C:
		t.Fatalf("expected no second warning, got %+v", ev)
	default:
	}
}

func TestDropNewestAtCapacity(t *testing.T) {
	b := New(Options{Capacity: 2, PipelinePolicy: DropNewest})
	sub := b.SubscribePipeline()

	b.PublishPipeline(MarketsScored{MarketsScored: 1})
	b.PublishPipeline(MarketsScored{MarketsScored: 2})
	delivered := b.PublishPipeline(MarketsScored{MarketsScored: 3})

	if delivered != 0 {
		t.Fatalf("expected publish at capacity to deliver to 0 subscribers, got %d", delivered)
	}
	if len(sub.C) != 2 {
		t.Fatalf("expected queue contents unchanged at 2, got %d", len(sub.C))
	}
}

func TestFastPathCoalesces(t *testing.T) {
	f := NewFastPath()
	sub := f.Subscribe()

	f.Trigger()
	f.Trigger()
	f.Trigger()

	gen := <-sub
	if gen != 3 {
		t.Fatalf("expected coalesced generation 3, got %d", gen)
	}

	select {
	case <-sub:
		t.Fatalf("expected only one pending generation")
	default:
	}
}

func TestPipelineDeliveryOrder(t *testing.T) {
	b := New(Options{Capacity: 8})
	sub := b.SubscribePipeline()

	b.PublishPipeline(TradesIngested{WalletAddress: "a"})
	b.PublishPipeline(TradesIngested{WalletAddress: "b"})
	b.PublishPipeline(TradesIngested{WalletAddress: "c"})

	first := (<-sub.C).(TradesIngested)
	second := (<-sub.C).(TradesIngested)
	third := (<-sub.C).(TradesIngested)

	if first.WalletAddress != "a" || second.WalletAddress != "b" || third.WalletAddress != "c" {
		t.Fatalf("expected delivery order a,b,c got %s,%s,%s", first.WalletAddress, second.WalletAddress, third.WalletAddress)
	}
}
