package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_LoadParsesPlainDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	if err := os.WriteFile(path, []byte("gw1:\n  n1:\n    sensors:\n      temp:\n        type: gauge\n"), 0644); err != nil {
		t.Fatal(err)
	}

	doc, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(doc.Gateways) != 1 || doc.Gateways[0].Name != "gw1" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestLoader_TemplatingRendersEnvBeforeParse(t *testing.T) {
	t.Setenv("SENSORHUB_TEST_GATEWAY", "gwFromEnv")
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	body := "{{ env \"SENSORHUB_TEST_GATEWAY\" }}:\n  n1:\n    sensors:\n      temp:\n        type: gauge\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(path)
	l.SetTemplating(true)
	doc, err := l.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(doc.Gateways) != 1 || doc.Gateways[0].Name != "gwFromEnv" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestLoader_TemplatingOffLeavesBracesLiteral(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sensors.yaml")
	body := "gw1:\n  n1:\n    sensors:\n      temp:\n        type: gauge\n        default:\n          value: \"{{ not a template }}\"\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	doc, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(doc.Gateways) != 1 {
		t.Fatalf("unexpected document: %+v", doc)
	}
}
