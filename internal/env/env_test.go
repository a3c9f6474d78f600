package env

import (
	"strings"
	"testing"
)

func toMap(kvs []string) map[string]string {
	m := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func TestComposeLayering(t *testing.T) {
	t.Setenv("VEILD_TEST_BASE", "os")
	t.Setenv("VEILD_TEST_OVERRIDE", "os")

	got := toMap(Compose(
		[]string{"VEILD_TEST_OVERRIDE=global", "VEILD_TEST_GLOBAL=g"},
		[]string{"VEILD_TEST_OVERRIDE=role", "VEILD_TEST_ROLE=r"},
	))

	if got["VEILD_TEST_BASE"] != "os" {
		t.Fatalf("base lost: %q", got["VEILD_TEST_BASE"])
	}
	if got["VEILD_TEST_OVERRIDE"] != "role" {
		t.Fatalf("override = %q, want role layer to win", got["VEILD_TEST_OVERRIDE"])
	}
	if got["VEILD_TEST_GLOBAL"] != "g" || got["VEILD_TEST_ROLE"] != "r" {
		t.Fatalf("layers missing: %v", got)
	}
}

func TestComposeSkipsMalformedEntries(t *testing.T) {
	got := toMap(Compose([]string{"NOEQUALS", "=novalue", "OK=1"}, nil))
	if got["OK"] != "1" {
		t.Fatalf("valid entry dropped")
	}
	if _, ok := got["NOEQUALS"]; ok {
		t.Fatalf("malformed entry kept")
	}
}

func TestComposeExpandsVariables(t *testing.T) {
	t.Setenv("VEILD_TEST_HOME", "/srv/veild")
	got := toMap(Compose([]string{"DATA=${VEILD_TEST_HOME}/data"}, nil))
	if got["DATA"] != "/srv/veild/data" {
		t.Fatalf("DATA = %q", got["DATA"])
	}
}

func FuzzCompose(f *testing.F) {
	f.Add("K=V", "K2=${K}")
	f.Add("", "=")
	f.Add("A=${B}", "B=${A}")
	f.Fuzz(func(t *testing.T, global, perRole string) {
		out := Compose([]string{global}, []string{perRole})
		for _, kv := range out {
			i := strings.IndexByte(kv, '=')
			if i <= 0 {
				t.Fatalf("malformed composed entry %q", kv)
			}
		}
	})
}
