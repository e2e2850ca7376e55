package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPlaceCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Calls.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, _ := r.BasicAuth()
		if user != "AC123" || pass != "secret" {
			t.Errorf("basic auth = %q / %q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("Url"); got != "https://pizza.example.com/voice" {
			t.Errorf("Url = %q", got)
		}
		if got := r.PostForm.Get("To"); got != "+15551234567" {
			t.Errorf("To = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA999"}`))
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	sid, err := placeCall(context.Background(), client, callRequest{
		AccountSID: "AC123",
		AuthToken:  "secret",
		From:       "+15550001111",
		To:         "+15551234567",
		WebhookURL: "https://pizza.example.com/voice",
		BaseURL:    srv.URL,
	})
	if err != nil {
		t.Fatalf("placeCall: %v", err)
	}
	if sid != "CA999" {
		t.Fatalf("sid = %q, want CA999", sid)
	}
}

func TestPlaceCallRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"unverified number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	_, err := placeCall(context.Background(), client, callRequest{
		AccountSID: "AC123",
		AuthToken:  "secret",
		From:       "+15550001111",
		To:         "+15551234567",
		WebhookURL: "https://pizza.example.com/voice",
		BaseURL:    srv.URL,
	})
	if err == nil {
		t.Fatal("placeCall accepted a rejected call")
	}
}
