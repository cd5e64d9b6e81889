package service

import (
	"testing"
	"time"

	"github.com/privacykit/shortlink/internal/app/model"
)

func intPtr(v int) *int { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluate_InactiveWinsOverEverything(t *testing.T) {
	now := time.Now()
	link := &model.Link{
		Active:     false,
		ExpiresAt:  timePtr(now.Add(-time.Hour)),
		MaxClicks:  intPtr(1),
		ClickCount: 5,
	}

	d := Evaluate(link, now)
	if d.Allow {
		t.Fatal("expected deny")
	}
	if d.Reason != ReasonInactive {
		t.Fatalf("expected ReasonInactive, got %s", d.Reason)
	}
	if d.Deactivate {
		t.Fatal("already-inactive deny must not request another deactivation")
	}
}

func TestEvaluate_ExpiryBeforeClickLimit(t *testing.T) {
	now := time.Now()
	link := &model.Link{
		Active:     true,
		ExpiresAt:  timePtr(now.Add(-time.Minute)),
		MaxClicks:  intPtr(3),
		ClickCount: 3,
	}

	d := Evaluate(link, now)
	if d.Reason != ReasonExpired {
		t.Fatalf("expected ReasonExpired when both conditions hold, got %s", d.Reason)
	}
	if !d.Deactivate {
		t.Fatal("time expiry must latch the link off")
	}
}

func TestEvaluate_ExactExpiryInstantStillAllows(t *testing.T) {
	now := time.Now()
	link := &model.Link{
		Active:    true,
		ExpiresAt: timePtr(now),
	}

	d := Evaluate(link, now)
	if !d.Allow {
		t.Fatalf("resolve at the exact expiry instant must succeed, got deny(%s)", d.Reason)
	}
}

func TestEvaluate_ClickLimit(t *testing.T) {
	now := time.Now()

	for _, count := range []int{3, 4, 10} {
		link := &model.Link{
			Active:     true,
			MaxClicks:  intPtr(3),
			ClickCount: count,
		}
		d := Evaluate(link, now)
		if d.Allow {
			t.Fatalf("click_count=%d at limit 3 must deny", count)
		}
		if d.Reason != ReasonClickLimit {
			t.Fatalf("expected ReasonClickLimit, got %s", d.Reason)
		}
		if !d.Deactivate {
			t.Fatal("click-limit deny must latch the link off")
		}
	}

	under := &model.Link{Active: true, MaxClicks: intPtr(3), ClickCount: 2}
	if d := Evaluate(under, now); !d.Allow {
		t.Fatalf("click_count below limit must allow, got deny(%s)", d.Reason)
	}
}

func TestEvaluate_UnboundedLinkAllows(t *testing.T) {
	link := &model.Link{Active: true, ClickCount: 1 << 20}
	d := Evaluate(link, time.Now())
	if !d.Allow {
		t.Fatalf("link without policies must allow, got deny(%s)", d.Reason)
	}
	if d.Deactivate {
		t.Fatal("allow must not request deactivation")
	}
}
