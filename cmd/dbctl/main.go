// Command dbctl inspects the substrate's vector store database directly,
// adapted from the teacher's dbctl (a small flag/action SQLite CLI over
// the agent_control table) repurposed to the records table in
// internal/vectorstore/schema.sql.
package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	dbPath := flag.String("db", "data/memory/vectorstore.db", "Path to the vector store SQLite database")
	action := flag.String("action", "", "Action to perform: list-agents, get-record, count, latest")
	agentID := flag.String("agent", "", "Agent name")
	recordID := flag.String("id", "", "Record id")
	limit := flag.Int("limit", 10, "Row limit for list/latest actions")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	if *action == "" {
		fmt.Fprintf(os.Stderr, "Usage: dbctl -db <path> -action <action> [-agent <name>] [-id <id>] [-limit N] [-json]\n")
		fmt.Fprintf(os.Stderr, "Actions: list-agents, get-record, count, latest\n")
		os.Exit(1)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", *dbPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch *action {
	case "list-agents":
		agents, err := listAgents(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list agents: %v\n", err)
			os.Exit(1)
		}
		if *jsonOutput {
			json.NewEncoder(os.Stdout).Encode(agents)
		} else {
			for _, a := range agents {
				fmt.Println(a)
			}
		}

	case "count":
		count, err := countRecords(db, *agentID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to count records: %v\n", err)
			os.Exit(1)
		}
		if *jsonOutput {
			json.NewEncoder(os.Stdout).Encode(map[string]interface{}{"agent": *agentID, "count": count})
		} else {
			fmt.Println(count)
		}

	case "get-record":
		if *recordID == "" {
			fmt.Fprintf(os.Stderr, "get-record requires -id\n")
			os.Exit(1)
		}
		rec, err := getRecord(db, *recordID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to get record: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(rec)

	case "latest":
		recs, err := latestRecords(db, *agentID, *limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list records: %v\n", err)
			os.Exit(1)
		}
		json.NewEncoder(os.Stdout).Encode(recs)

	default:
		fmt.Fprintf(os.Stderr, "Unknown action: %s\n", *action)
		os.Exit(1)
	}
}

type recordSummary struct {
	ID          string    `json:"id"`
	Agent       string    `json:"agent"`
	Text        string    `json:"text"`
	RecordType  string    `json:"record_type"`
	IsFallback  bool      `json:"is_fallback"`
	CreatedAt   time.Time `json:"created_at"`
}

func listAgents(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT agent FROM records ORDER BY agent`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []string
	for rows.Next() {
		var agent string
		if err := rows.Scan(&agent); err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func countRecords(db *sql.DB, agent string) (int, error) {
	var count int
	var err error
	if agent != "" {
		err = db.QueryRow(`SELECT COUNT(*) FROM records WHERE agent = ?`, agent).Scan(&count)
	} else {
		err = db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&count)
	}
	return count, err
}

func getRecord(db *sql.DB, id string) (*recordSummary, error) {
	var rec recordSummary
	var isFallback int
	var createdAtNanos int64
	err := db.QueryRow(`SELECT id, agent, text, record_type, is_fallback, created_at FROM records WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Agent, &rec.Text, &rec.RecordType, &isFallback, &createdAtNanos)
	if err != nil {
		return nil, err
	}
	rec.IsFallback = isFallback == 1
	rec.CreatedAt = time.Unix(0, createdAtNanos).UTC()
	return &rec, nil
}

func latestRecords(db *sql.DB, agent string, limit int) ([]recordSummary, error) {
	query := `SELECT id, agent, text, record_type, is_fallback, created_at FROM records`
	args := []interface{}{}
	if agent != "" {
		query += ` WHERE agent = ?`
		args = append(args, agent)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []recordSummary
	for rows.Next() {
		var rec recordSummary
		var isFallback int
		var createdAtNanos int64
		if err := rows.Scan(&rec.ID, &rec.Agent, &rec.Text, &rec.RecordType, &isFallback, &createdAtNanos); err != nil {
			return nil, err
		}
		rec.IsFallback = isFallback == 1
		rec.CreatedAt = time.Unix(0, createdAtNanos).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
