package storage

import "testing"

func TestRedisOptionsURL(t *testing.T) {
	opts := RedisOptions("redis://:pw@localhost:6380/2")
	if opts.Addr != "localhost:6380" || opts.Password != "pw" || opts.DB != 2 {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestRedisOptionsAzureConnectionString(t *testing.T) {
	opts := RedisOptions("cache.redis.cache.windows.net:6380,password=secret=,ssl=True,abortConnect=False")
	if opts.Addr != "cache.redis.cache.windows.net:6380" {
		t.Fatalf("unexpected addr: %s", opts.Addr)
	}
	if opts.Password != "secret=" {
		t.Fatalf("unexpected password: %q", opts.Password)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected TLS to be enabled")
	}
}

func TestRedisOptionsPlainAddress(t *testing.T) {
	opts := RedisOptions("localhost:6379")
	if opts.Addr != "localhost:6379" || opts.TLSConfig != nil {
		t.Fatalf("unexpected options: %+v", opts)
	}
}
