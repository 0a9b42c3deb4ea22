package postgres

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestFactoryValid(t *testing.T) {
	f := Factory{}

	t.Run("bad config", func(t *testing.T) {
		if err := f.Valid(json.RawMessage(`}`)); err == nil {
			t.Error("wanted parsing failure but got a successful result")
		}
	})

	for _, tt := range []struct {
		name string
		cfg  Config
		err  error
	}{
		{
			name: "missing dsn",
			cfg:  Config{},
			err:  ErrNoDSN,
		},
		{
			name: "unparseable dsn",
			cfg:  Config{DSN: "postgres://captcha:hunter2@db:notaport/captcha"},
			err:  ErrBadDSN,
		},
		{
			name: "good url",
			cfg:  Config{DSN: "postgres://captcha:hunter2@db:5432/captcha?sslmode=disable", MaxConns: 4},
		},
		{
			name: "good keyword dsn",
			cfg:  Config{DSN: "host=db user=captcha dbname=captcha sslmode=disable"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.cfg)
			if err != nil {
				t.Fatal(err)
			}

			if err := f.Valid(json.RawMessage(data)); !errors.Is(err, tt.err) {
				t.Logf("want: %v", tt.err)
				t.Logf("got:  %v", err)
				t.Error("wrong error")
			}
		})
	}
}

func TestConfigKeys(t *testing.T) {
	var c Config
	if err := json.Unmarshal([]byte(`{"dsn": "host=db", "maxConns": 8, "skipMigrate": true}`), &c); err != nil {
		t.Fatal(err)
	}

	if c.MaxConns != 8 || !c.SkipMigrate {
		t.Errorf("camelCase options not applied: %+v", c)
	}

	data, err := json.Marshal(Config{DSN: "host=db", MaxConns: 2, SkipMigrate: true})
	if err != nil {
		t.Fatal(err)
	}

	if got, want := string(data), `{"dsn":"host=db","maxConns":2,"skipMigrate":true}`; got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
