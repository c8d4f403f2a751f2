package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"translation-service/pkg/job"
)

func main() {
	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://api:8080/translate"
	}

	ratePerSec := 1
	if v := os.Getenv("RATE_PER_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ratePerSec = n
		}
	}

	concurrency := 1
	if v := os.Getenv("CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}

	for i := 0; i < concurrency; i++ {
		go submitLoop(apiURL, ratePerSec/concurrency)
	}

	select {} // block forever
}

func submitLoop(apiURL string, rps int) {
	interval := time.Second
	if rps > 0 {
		interval = time.Second / time.Duration(rps)
	}
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	for {
		<-ticker.C
		sub := job.Submission{
			JobID:     uuid.NewString(),
			SourceRef: fmt.Sprintf("papers/%d/original.pdf", rand.Intn(1000)),
			Mode:      randomMode(),
			Tier:      randomTier(),
		}
		body, _ := json.Marshal(sub)
		resp, err := http.Post(apiURL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("failed to submit job: %v", err)
			continue
		}
		log.Printf("submitted job: %s (%s/%s), status: %d", sub.JobID, sub.Mode, sub.Tier, resp.StatusCode)
		resp.Body.Close()
	}
}

func randomMode() job.Mode {
	if rand.Intn(2) == 0 {
		return job.ModeMono
	}
	return job.ModeDual
}

func randomTier() job.Tier {
	switch rand.Intn(3) {
	case 0:
		return job.Tier1
	case 1:
		return job.Tier2
	default:
		return job.Tier3
	}
}
