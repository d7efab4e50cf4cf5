package faceclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDetectAndEncode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/encode" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			http.Error(w, "missing image", http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		if string(data) != "jpeg-bytes" {
			http.Error(w, "wrong payload", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"faces":[
			{"box":[10,60,70,5],"encoding":[0.1,0.2]},
			{"box":[1,2,3,4],"encoding":[0.3,0.4]}
		]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, false, time.Second)
	got, err := c.DetectAndEncode(context.Background(), []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("DetectAndEncode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d detections, want 2", len(got))
	}
	want := Box{Top: 10, Right: 60, Bottom: 70, Left: 5}
	if got[0].Box != want {
		t.Errorf("Box = %+v, want %+v", got[0].Box, want)
	}
	if got[1].Encoding[1] != 0.4 {
		t.Errorf("second encoding = %v", got[1].Encoding)
	}
}

func TestDetectAndEncodeNoFaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"faces":[]}`)
	}))
	defer srv.Close()

	got, err := New(srv.URL, false, time.Second).DetectAndEncode(context.Background(), []byte("x"))
	if err != nil {
		t.Fatalf("DetectAndEncode: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d detections, want 0", len(got))
	}
}

func TestDetectAndEncodeUnreadable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cannot decode", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := New(srv.URL, false, time.Second).DetectAndEncode(context.Background(), []byte("garbage"))
	if !errors.Is(err, ErrUnreadableImage) {
		t.Fatalf("err = %v, want ErrUnreadableImage", err)
	}
}

func TestDetectAndEncodeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := New(srv.URL, false, time.Second).DetectAndEncode(context.Background(), []byte("x"))
	if !errors.Is(err, ErrServiceUnavailable) || errors.Is(err, ErrUnreadableImage) {
		t.Fatalf("err = %v, want ErrServiceUnavailable", err)
	}
}

func TestSkipModeIsDeterministic(t *testing.T) {
	c := New("", true, 0)
	a, err := c.DetectAndEncode(context.Background(), []byte("photo-a"))
	if err != nil {
		t.Fatal(err)
	}
	again, _ := c.DetectAndEncode(context.Background(), []byte("photo-a"))
	other, _ := c.DetectAndEncode(context.Background(), []byte("photo-b"))

	if len(a) != 1 || len(a[0].Encoding) != 128 {
		t.Fatalf("unexpected skip detection: %+v", a)
	}
	for i := range a[0].Encoding {
		if a[0].Encoding[i] != again[0].Encoding[i] {
			t.Fatalf("encoding differs at %d", i)
		}
	}
	same := true
	for i := range a[0].Encoding {
		if a[0].Encoding[i] != other[0].Encoding[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different images produced identical encodings")
	}
}

func TestEmptyImage(t *testing.T) {
	_, err := New("", true, 0).DetectAndEncode(context.Background(), nil)
	if !errors.Is(err, ErrUnreadableImage) {
		t.Fatalf("err = %v, want ErrUnreadableImage", err)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := New(srv.URL, false, time.Second).Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}
