// Command simulate sends a mix of correctly and incorrectly signed requests
// to the protected route.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"microchallenges/internal/signature"
)

type sample struct {
	Name    string
	Payload []byte
	// Sig selects how the request is signed: "valid", "invalid", "missing"
	// or "reencoded" (signed over a re-serialization of the payload).
	Sig string
}

var samples = []sample{
	{Name: "challenge example", Payload: []byte(`{"foo":"bar"}`), Sig: "valid"},
	{Name: "nested payload", Payload: []byte(`{"event": "order.created", "order": {"id": 42, "items": [1, 2, 3]}}`), Sig: "valid"},
	{Name: "bad signature", Payload: []byte(`{"foo":"bar"}`), Sig: "invalid"},
	{Name: "no signature", Payload: []byte(`{"foo":"bar"}`), Sig: "missing"},
	{Name: "re-encoded body", Payload: []byte(`{"b": 1,  "a": 2}`), Sig: "reencoded"},
	{Name: "signed plain text", Payload: []byte("hello"), Sig: "valid"},
}

func main() {
	var (
		targetURL = flag.String("url", "http://localhost:8080/hmac/protected", "Protected route URL")
		secret    = flag.String("secret", os.Getenv("MICROCHALLENGES_SECRET"), "Shared secret (defaults to MICROCHALLENGES_SECRET)")
		header    = flag.String("header", signature.DefaultHeader, "Signature header")
		delay     = flag.Duration("delay", 500*time.Millisecond, "Delay between requests")
	)
	flag.Parse()

	if *secret == "" {
		*secret = os.Getenv("SECRET")
	}
	if *secret == "" {
		log.Fatal("secret is required (-secret, MICROCHALLENGES_SECRET or SECRET)")
	}
	key := signature.NewSecret(*secret)

	log.Printf("Starting simulation")
	log.Printf("Target URL: %s", *targetURL)

	client := &http.Client{Timeout: 10 * time.Second}

	for _, s := range samples {
		req, err := http.NewRequest(http.MethodPost, *targetURL, bytes.NewReader(s.Payload))
		if err != nil {
			log.Fatalf("Error creating request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")

		switch s.Sig {
		case "valid":
			req.Header.Set(*header, signature.Sign(key, s.Payload))
		case "invalid":
			req.Header.Set(*header, "invalidsignature")
		case "reencoded":
			var v any
			if err := json.Unmarshal(s.Payload, &v); err != nil {
				log.Fatalf("Error parsing payload: %v", err)
			}
			reencoded, _ := json.Marshal(v)
			req.Header.Set(*header, signature.Sign(key, reencoded))
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			log.Printf("%-18s error: %v", s.Name, err)
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		log.Printf("%-18s HTTP %d (%v) %s", s.Name, resp.StatusCode, time.Since(start), bytes.TrimSpace(body))
		time.Sleep(*delay)
	}

	log.Printf("Simulation complete")
}
