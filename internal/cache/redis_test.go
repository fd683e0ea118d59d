package cache

import (
	"context"
	"testing"
)

func TestConnect_EmptyURL(t *testing.T) {
	c, err := Connect(context.Background(), "")
	if err == nil || c != nil {
		t.Fatalf("Connect(\"\") = %v, %v; want nil, error", c, err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	for _, url := range []string{"localhost:6379", "http://localhost:6379", "redis://localhost:6379/notadb"} {
		c, err := Connect(context.Background(), url)
		if err == nil {
			_ = c.Close()
			t.Errorf("Connect(%q) should fail to parse", url)
		}
	}
}
