package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tarbot/internal/domain"
)

func TestKeysArePrefixed(t *testing.T) {
	c := NewFromRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "bot:")
	defer c.Close()

	if got := c.key("cache", "1:products"); got != "bot:cache:1:products" {
		t.Fatalf("key = %s", got)
	}

	k := NewBookCache(c).keys(domain.ExchangeCoinbase, "BTC-USD")
	if k.asks != "bot:book:1:BTC-USD:asks" || k.bidSize != "bot:book:1:BTC-USD:bid:size" {
		t.Fatalf("book keys = %+v", k)
	}

	if NewFromRedis(redis.NewClient(&redis.Options{}), "").prefix != "tarbot" {
		t.Fatal("empty prefix should default to tarbot")
	}
}

func TestLevelsSkipsMissingSizes(t *testing.T) {
	zs := []redis.Z{
		{Score: 100, Member: "100"},
		{Score: 101.5, Member: "101.5"},
		{Score: 102, Member: "102"},
	}
	sizes := map[string]string{"100": "1.5", "101.5": "0.25"}

	got := levels(zs, sizes)
	want := []domain.Level{{Price: 100, Size: 1.5}, {Price: 101.5, Size: 0.25}}
	if len(got) != len(want) {
		t.Fatalf("levels = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("level %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestClientOptions(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		addr    string
		db      int
		pool    int
		tls     bool
		wantErr bool
	}{
		{name: "host port", cfg: ClientConfig{Addr: "cache:6379", DB: 2, PoolSize: 5}, addr: "cache:6379", db: 2, pool: 5},
		{name: "tls flag", cfg: ClientConfig{Addr: "cache:6380", TLSEnabled: true}, addr: "cache:6380", tls: true},
		{name: "url", cfg: ClientConfig{Addr: "rediss://:pw@cache:6390/4", PoolSize: 9}, addr: "cache:6390", db: 4, pool: 9, tls: true},
		{name: "bad url", cfg: ClientConfig{Addr: "redis://cache:6379/notadb"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.cfg.options()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("options: %v", err)
			}
			if opts.Addr != tt.addr || opts.DB != tt.db || (opts.TLSConfig != nil) != tt.tls {
				t.Errorf("opts = addr %s db %d tls %v", opts.Addr, opts.DB, opts.TLSConfig != nil)
			}
			if tt.pool != 0 && opts.PoolSize != tt.pool {
				t.Errorf("pool = %d, want %d", opts.PoolSize, tt.pool)
			}
		})
	}
}
