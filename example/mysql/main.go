// Command mysql-traffic drives a steady stream of real go-sql-driver/mysql
// traffic at an mysrvd instance, so there's something to watch in -tui or
// the monitor HTTP/SSE feed: plain queries, a prepared lookup hammered in a
// loop (tripping N+1 detection), and one deliberately long prepared query.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const defaultDSN = "root@tcp(127.0.0.1:3306)/kv?parseTime=true"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func getDSN() string {
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		return v
	}
	return defaultDSN
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dsn := getDSN()
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	fmt.Printf("connected to mysrvd via %s\n", dsn)

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for i := 1; ; i++ {
		doScan(ctx, db, i)
		doLookups(ctx, db, i)
		doLongQuery(ctx, db, i)

		if i%3 == 0 {
			doNPlus1(ctx, db, i)
		}

		select {
		case <-ctx.Done():
			fmt.Println("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func doScan(ctx context.Context, db *sql.DB, i int) {
	rows, err := db.QueryContext(ctx, "SELECT key, value FROM kv")
	if err != nil {
		log.Printf("scan: %v", err)
		return
	}
	defer func() { _ = rows.Close() }()

	var n int
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			log.Printf("scan row: %v", err)
			return
		}
		n++
	}
	fmt.Printf("[%d] scanned %d rows\n", i, n)
}

func doLookups(ctx context.Context, db *sql.DB, i int) {
	stmt, err := db.PrepareContext(ctx, "SELECT value FROM kv WHERE key = ?")
	if err != nil {
		log.Printf("prepare: %v", err)
		return
	}
	defer func() { _ = stmt.Close() }()

	var v string
	if err := stmt.QueryRowContext(ctx, "greeting").Scan(&v); err != nil && err != sql.ErrNoRows {
		log.Printf("lookup: %v", err)
		return
	}
	fmt.Printf("[%d] lookup greeting -> %q\n", i, v)
}

func doNPlus1(ctx context.Context, db *sql.DB, i int) {
	stmt, err := db.PrepareContext(ctx, "SELECT value FROM kv WHERE key = ?")
	if err != nil {
		log.Printf("n1 prepare: %v", err)
		return
	}
	defer func() { _ = stmt.Close() }()

	for j := range 10 {
		var v string
		_ = stmt.QueryRowContext(ctx, fmt.Sprintf("key-%d-%d", i, j)).Scan(&v)
	}
	fmt.Printf("[%d] N+1 simulation done (10 individual lookups)\n", i)
}

func doLongQuery(ctx context.Context, db *sql.DB, i int) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			k1.key,
			k1.value,
			k2.key AS other_key,
			k2.value AS other_value,
			UPPER(k1.value) AS upper_value,
			LOWER(k2.value) AS lower_other_value,
			CHAR_LENGTH(k1.value) AS value_length,
			COALESCE(k2.value, 'unknown') AS safe_other_value
		FROM kv k1
		CROSS JOIN kv k2
		WHERE k1.key != k2.key
			AND k1.value LIKE CONCAT('%', ?, '%')
		ORDER BY k1.key, k2.key
		LIMIT 1
	`, fmt.Sprintf("user-%d", i))
	if err != nil {
		log.Printf("long query: %v", err)
		return
	}
	_ = rows.Close()
}
