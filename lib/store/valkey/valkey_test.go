package valkey

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wpgarts/captcha/internal"
	"github.com/wpgarts/captcha/lib/store"
	"github.com/wpgarts/captcha/lib/store/storetest"
)

func init() {
	internal.JoinTestNetwork()
}

func valkeyURL(t *testing.T) string {
	t.Helper()

	if os.Getenv("DONT_USE_NETWORK") != "" {
		t.Skip("test requires network egress")
	}

	testcontainers.SkipIfProviderIsNotHealthy(t)

	req := testcontainers.ContainerRequest{
		Image:      "valkey/valkey:8",
		WaitingFor: wait.ForLog("Ready to accept connections"),
	}
	valkeyC, err := testcontainers.GenericContainer(t.Context(), testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	testcontainers.CleanupContainer(t, valkeyC)
	if err != nil {
		t.Fatal(err)
	}

	containerIP, err := valkeyC.ContainerIP(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	return fmt.Sprintf("redis://%s:6379/0", containerIP)
}

func buildStore(t *testing.T, url, prefix string, clk *testclock.Clock) *Store {
	t.Helper()

	data, err := json.Marshal(Config{URL: url, Prefix: prefix})
	if err != nil {
		t.Fatal(err)
	}

	s, err := Factory{}.Build(t.Context(), clk, json.RawMessage(data))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.(*Store).Close() })

	return s.(*Store)
}

func TestImpl(t *testing.T) {
	url := valkeyURL(t)

	t.Run("common", func(t *testing.T) {
		data, err := json.Marshal(Config{URL: url})
		if err != nil {
			t.Fatal(err)
		}

		storetest.Common(t, Factory{}, json.RawMessage(data))
	})

	t.Run("purge skips undecodable values", func(t *testing.T) {
		clk := testclock.NewClock(time.Now())
		s := buildStore(t, url, "purge-junk:", clk)

		if err := s.rdb.Set(t.Context(), s.key("junk"), "not json", 0).Err(); err != nil {
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
	})

	t.Run("server ttl outlives expiry", func(t *testing.T) {
		clk := testclock.NewClock(time.Now())
		s := buildStore(t, url, "ttl:", clk)

		expiry := clk.Now().Add(10 * time.Second)
		if err := s.Create(t.Context(), store.Record{ID: "rec", Answer: "ABCDE", ExpiresAt: &expiry}); err != nil {
			t.Fatal(err)
		}

		ttl, err := s.rdb.PTTL(t.Context(), s.key("rec")).Result()
		if err != nil {
			t.Fatal(err)
		}

		if ttl <= 10*time.Second {
			t.Errorf("server ttl %s does not outlast the record expiry", ttl)
		}
	})
}
