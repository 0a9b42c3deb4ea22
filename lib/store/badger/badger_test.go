package badger

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/juju/clock/testclock"
	"github.com/wpgarts/captcha/lib/store"
	"github.com/wpgarts/captcha/lib/store/storetest"
)

func TestImpl(t *testing.T) {
	t.Run("in memory", func(t *testing.T) {
		storetest.Common(t, Factory{}, json.RawMessage(`{"inMemory": true}`))
	})

	t.Run("on disk", func(t *testing.T) {
		data, err := json.Marshal(Config{Path: filepath.Join(t.TempDir(), "db")})
		if err != nil {
			t.Fatal(err)
		}

		storetest.Common(t, Factory{}, json.RawMessage(data))
	})
}

func TestPurgeLeavesLiveRecords(t *testing.T) {
	clk := testclock.NewClock(time.Now())

	s, err := Factory{}.Build(t.Context(), clk, json.RawMessage(`{"inMemory": true}`))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.(*Store).Close() })

	soon := clk.Now().Add(time.Minute)
	later := clk.Now().Add(time.Hour)

	for _, rec := range []store.Record{
		{ID: "soon", Answer: "ABCDE", ExpiresAt: &soon},
		{ID: "later", Answer: "FGHJK", ExpiresAt: &later},
	} {
		if err := s.Create(t.Context(), rec); err != nil {
			t.Fatal(err)
		}
	}

	clk.Advance(2 * time.Minute)

	n, err := s.PurgeExpired(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("purged %d records, want 1", n)
	}

	if _, err := s.Find(t.Context(), "soon", false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("wanted expired record to be purged, got: %v", err)
	}

	rec, err := s.Find(t.Context(), "later", true)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Answer != "FGHJK" {
		t.Errorf("wrong answer: %q", rec.Answer)
	}
}

func TestConfigValid(t *testing.T) {
	for _, tt := range []struct {
		name string
		cfg  Config
		err  error
	}{
		{name: "missing path", cfg: Config{}, err: ErrMissingPath},
		{name: "both", cfg: Config{Path: "/tmp/x", InMemory: true}, err: ErrPathAndMemory},
		{name: "disk", cfg: Config{Path: "/var/lib/captchad"}},
		{name: "memory", cfg: Config{InMemory: true}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Valid(); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func TestPurgeSkipsUndecodableValues(t *testing.T) {
	clk := testclock.NewClock(time.Now())

	s, err := Factory{}.Build(t.Context(), clk, json.RawMessage(`{"inMemory": true}`))
	if err != nil {
		t.Fatal(err)
	}
	bs := s.(*Store)
	t.Cleanup(func() { bs.Close() })

	if err := bs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key("junk"), []byte("not json"))
	}); err != nil {
		t.Fatal(err)
	}

	expiry := clk.Now().Add(time.Minute)
	if err := s.Create(t.Context(), store.Record{ID: "old", Answer: "ABCDE", ExpiresAt: &expiry}); err != nil {
		t.Fatal(err)
	}

	clk.Advance(2 * time.Minute)

	n, err := s.PurgeExpired(t.Context())
	if err != nil {
		t.Fatalf("purge failed on a corrupt value: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d records, want 1", n)
	}

	if _, err := s.Find(t.Context(), "old", false); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired record survived purge: %v", err)
	}
}

func TestConfigKeys(t *testing.T) {
	var c Config
	if err := json.Unmarshal([]byte(`{"inMemory": true, "syncWrites": true}`), &c); err != nil {
		t.Fatal(err)
	}

	if !c.InMemory || !c.SyncWrites {
		t.Errorf("camelCase options not applied: %+v", c)
	}
}
