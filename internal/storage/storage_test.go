package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "coefbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestAuditRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		driver string
		file   string
	}{
		{"file", "coefbot.json"},
		{"sqlite", "coefbot.db"},
	}
	for _, tc := range tests {
		t.Run(tc.driver, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			st, err := Open(Config{Driver: tc.driver, Path: filepath.Join(dir, "data", tc.file)}, logx.Nop())
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { _ = st.Close() })

			ctx := context.Background()
			base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			entries := []AuditEntry{
				{At: base, Kind: KindCommand, UserID: 1, Action: "start"},
				{At: base.Add(time.Second), Kind: KindCommand, UserID: 1, Action: "toggle_warehouse", Target: "507", MetaJSON: `{"added":true}`},
				{At: base.Add(2 * time.Second), Kind: KindNotification, UserID: 1, Action: "failed", Target: "1:507:2024-05-02", Error: "blocked"},
			}
			for _, e := range entries {
				if err := st.AppendAudit(ctx, e); err != nil {
					t.Fatal(err)
				}
			}

			got, err := st.RecentAudit(ctx, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 {
				t.Fatalf("RecentAudit(2) returned %d entries", len(got))
			}
			if got[0].Action != "failed" || got[0].Error != "blocked" || !got[0].At.Equal(entries[2].At) {
				t.Fatalf("newest = %+v", got[0])
			}
			if got[1].Target != "507" || got[1].MetaJSON != `{"added":true}` {
				t.Fatalf("second = %+v", got[1])
			}
			if none, err := st.RecentAudit(ctx, 0); err != nil || none != nil {
				t.Fatalf("RecentAudit(0) = %v, %v", none, err)
			}
		})
	}
}

func TestFileStoreSkipsMalformedLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "bot.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.AppendAudit(ctx, AuditEntry{Kind: KindCommand, UserID: 2, Action: "start"}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "bot.audit.jsonl"), os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()
	if err := st.AppendAudit(ctx, AuditEntry{Kind: KindCommand, UserID: 2, Action: "reconfigure"}); err != nil {
		t.Fatal(err)
	}

	got, err := st.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Action != "reconfigure" || got[0].At.IsZero() {
		t.Fatalf("entries = %+v", got)
	}
}
