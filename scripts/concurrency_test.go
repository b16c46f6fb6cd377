//go:build ignore
// +build ignore

// Package main provides a manual concurrency stress test for the lending API.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <book_id> <username1> [username2 ...]
//
// Or use the convenience environment variables:
//
//	BOOK_ID=<uuid>  USERNAMES=<u1>,<u2>,...  go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Fires N goroutines (one per user) all attempting to borrow the same book simultaneously.
//  2. Prints how many borrows succeeded and how many were rejected, by status.
//  3. Reads the book's quantity back from GET /books and checks it against the successes.
//
// Prerequisites:
//   - Server must be running.
//   - The book and the users must exist. Each user should hold fewer than two loans.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type borrowResult struct {
	Username   string
	BorrowID   string
	StatusCode int
	Message    string
	Err        error
}

type book struct {
	ID       string `json:"book_id"`
	Quantity int    `json:"quantity"`
}

func main() {
	serverAddr := os.Getenv("SERVER_URL")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	bookID := os.Getenv("BOOK_ID")
	var usernames []string
	if env := os.Getenv("USERNAMES"); env != "" {
		usernames = strings.Split(env, ",")
	}

	args := os.Args[1:]
	if len(args) >= 1 {
		bookID = args[0]
	}
	if len(args) >= 2 {
		usernames = args[1:]
	}

	if bookID == "" {
		log.Fatal("Usage: BOOK_ID=<uuid> USERNAMES=<u1,u2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <book_id> <username1> [username2 ...]")
	}
	if len(usernames) == 0 {
		log.Fatal("At least one username must be provided via USERNAMES env or positional args")
	}

	before, err := fetchQuantity(serverAddr, bookID)
	if err != nil {
		log.Fatalf("read book quantity: %v", err)
	}

	fmt.Printf("=== Lending Concurrency Test ===\n")
	fmt.Printf("Server   : %s\n", serverAddr)
	fmt.Printf("Book     : %s (quantity %d)\n", bookID, before)
	fmt.Printf("Borrowers: %d\n\n", len(usernames))

	results := make([]borrowResult, len(usernames))
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i, name := range usernames {
		wg.Add(1)
		go func(idx int, username string) {
			defer wg.Done()
			<-start
			results[idx] = attemptBorrow(serverAddr, bookID, strings.TrimSpace(username))
		}(i, name)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)
	wg.Wait()
	fmt.Println("All requests completed.")
	fmt.Println()

	var borrowed, rejected, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] user=%-20s err=%v\n", r.Username, r.Err)
		case r.StatusCode == http.StatusOK:
			borrowed++
			fmt.Printf("  [OK  ] user=%-20s borrow_id=%s\n", r.Username, r.BorrowID)
		case r.StatusCode == http.StatusConflict, r.StatusCode == http.StatusForbidden:
			rejected++
			fmt.Printf("  [REJ ] user=%-20s status=%d %s\n", r.Username, r.StatusCode, r.Message)
		default:
			failures++
			fmt.Printf("  [FAIL] user=%-20s status=%d %s\n", r.Username, r.StatusCode, r.Message)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Borrowed : %d\n", borrowed)
	fmt.Printf("Rejected : %d\n", rejected)
	fmt.Printf("Failures : %d\n", failures)
	fmt.Printf("Total    : %d\n\n", len(usernames))

	after, err := fetchQuantity(serverAddr, bookID)
	if err != nil {
		log.Fatalf("read book quantity: %v", err)
	}

	fmt.Println("--- Invariant Check ---")
	fmt.Printf("Quantity before=%d after=%d borrowed=%d\n", before, after, borrowed)
	if before-after != borrowed || after < 0 {
		fmt.Println("[FAIL] inventory does not match the successful borrows")
		os.Exit(1)
	}
	fmt.Println("[OK] inventory matches the successful borrows")

	if failures > 0 {
		fmt.Printf("\n[WARNING] %d request(s) failed, check server logs for details.\n", failures)
		os.Exit(1)
	}
}

func attemptBorrow(serverAddr, bookID, username string) borrowResult {
	body, _ := json.Marshal(map[string]interface{}{
		"username": username,
		"book_id":  bookID,
		"quantity": 1,
	})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(serverAddr+"/borrow-book", "application/json", bytes.NewReader(body))
	if err != nil {
		return borrowResult{Username: username, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed struct {
		BorrowID string `json:"borrow_id"`
		Error    string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return borrowResult{Username: username, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad JSON: %s", raw)}
	}
	return borrowResult{
		Username:   username,
		BorrowID:   parsed.BorrowID,
		StatusCode: resp.StatusCode,
		Message:    parsed.Error,
	}
}

func fetchQuantity(serverAddr, bookID string) (int, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverAddr + "/books")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var books []book
	if err := json.NewDecoder(resp.Body).Decode(&books); err != nil {
		return 0, err
	}
	for _, b := range books {
		if b.ID == bookID {
			return b.Quantity, nil
		}
	}
	return 0, fmt.Errorf("book %s not found", bookID)
}
