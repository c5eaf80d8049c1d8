package ipfs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestAdd_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v0/add" {
			t.Errorf("path = %s, want /api/v0/add", r.URL.Path)
		}
		w.Write([]byte(`{"Hash":"QmExampleCid"}`))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	cid, err := client.Add(context.Background(), "lib.sw", strings.NewReader("contract;"))
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if cid != "QmExampleCid" {
		t.Errorf("cid = %s, want QmExampleCid", cid)
	}
}

func TestAdd_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("node unreachable"))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	if _, err := client.Add(context.Background(), "lib.sw", strings.NewReader("x")); err == nil {
		t.Error("Add() = nil error, want error on non-200 status")
	}
}

func TestAdd_MissingHash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	if _, err := client.Add(context.Background(), "lib.sw", strings.NewReader("x")); err == nil {
		t.Error("Add() = nil error, want error when Hash is empty")
	}
}

func TestCat_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("arg") != "QmExampleCid" {
			t.Errorf("arg = %s, want QmExampleCid", r.URL.Query().Get("arg"))
		}
		w.Write([]byte("contract;"))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	body, err := client.Cat(context.Background(), "QmExampleCid")
	if err != nil {
		t.Fatalf("Cat() error = %v", err)
	}
	defer body.Close()

	data, _ := io.ReadAll(body)
	if string(data) != "contract;" {
		t.Errorf("body = %s, want contract;", string(data))
	}
}

func TestCat_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	if _, err := client.Cat(context.Background(), "QmMissing"); err == nil {
		t.Error("Cat() = nil error, want error on non-200 status")
	}
}

func TestPin_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Pins":["QmExampleCid"]}`))
	}))
	defer server.Close()

	client := New(server.URL, 5*time.Second)
	if err := client.Pin(context.Background(), "QmExampleCid"); err != nil {
		t.Fatalf("Pin() error = %v", err)
	}
}
