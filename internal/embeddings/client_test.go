package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{
			name:     "identical",
			a:        []float32{1, 0, 0},
			b:        []float32{1, 0, 0},
			expected: 1.0,
		},
		{
			name:     "orthogonal",
			a:        []float32{1, 0},
			b:        []float32{0, 1},
			expected: 0.0,
		},
		{
			name:     "opposite",
			a:        []float32{1, 1},
			b:        []float32{-1, -1},
			expected: -1.0,
		},
		{
			name:     "mismatched length",
			a:        []float32{1},
			b:        []float32{1, 2},
			expected: 0.0,
		},
		{
			name:     "empty",
			expected: 0.0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := CosineSimilarity(tc.a, tc.b)
			if math.Abs(float64(got-tc.expected)) > 0.0001 {
				t.Errorf("got %f, want %f", got, tc.expected)
			}
		})
	}
}

func TestTopK(t *testing.T) {
	query := []float32{1, 0, 0}
	vectors := [][]float32{
		{0, 1, 0},     // orthogonal, sim = 0
		{1, 0, 0},     // identical, sim = 1
		{-1, 0, 0},    // opposite, sim = -1
		{0.7, 0.7, 0}, // similar, sim ~ 0.707
	}

	top2 := TopK(query, vectors, 2)
	if len(top2) != 2 {
		t.Fatalf("expected 2 results, got %d", len(top2))
	}
	if top2[0] != 1 {
		t.Errorf("expected index 1 (identical) first, got %d", top2[0])
	}
	if top2[1] != 3 {
		t.Errorf("expected index 3 (similar) second, got %d", top2[1])
	}
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "nomic-embed-text" || req.Prompt != "pix fees" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/"}, nil)
	emb, err := c.Generate(context.Background(), "pix fees")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(emb) != 3 {
		t.Errorf("dims = %d, want 3", len(emb))
	}

	batch, err := c.GenerateBatch(context.Background(), []string{"pix fees", "pix fees"})
	if err != nil || len(batch) != 2 {
		t.Errorf("GenerateBatch = %d, %v", len(batch), err)
	}
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not found", http.StatusNotFound)
			},
		},
		{
			name: "empty vector",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"embedding": []}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := New(Config{BaseURL: srv.URL, Model: "m"}, nil)
			if _, err := c.Generate(context.Background(), "x"); err == nil {
				t.Error("expected error")
			}
		})
	}
}
