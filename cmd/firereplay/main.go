// Command firereplay publishes the rows of a NASA FIRMS CSV export to the fire
// feed topic, one JSON record per row, so the service can be exercised with
// real detections.
//
// Usage:
//
//	go run ./cmd/firereplay \
//	  -csv MODIS_C6_1_USA_contiguous_and_Hawaii_24h.csv \
//	  -brokers localhost:9092 -topic fire-detections -state California
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/segmentio/kafka-go"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "FIRMS CSV export to replay")
	brokers := flag.String("brokers", sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "comma-separated Kafka brokers")
	topic := flag.String("topic", sharedcfg.EnvOrDefault("KAFKA_FIRE_TOPIC", "fire-detections"), "fire feed topic")
	state := flag.String("state", "", "state to stamp on rows that have none")
	dryRun := flag.Bool("dry-run", false, "parse and summarize without publishing")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		return errors.New("missing required flag: -csv")
	}

	records, err := readCSV(*csvPath, *state)
	if err != nil {
		return fmt.Errorf("reading %s: %w", *csvPath, err)
	}
	log.Printf("read %d rows", len(records))

	msgs, stats := encode(records)
	printStats(stats)
	if *dryRun {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &kafka.Writer{
		Addr:         kafka.TCP(sharedcfg.ParseBrokers(*brokers)...),
		Topic:        *topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	defer w.Close()

	const chunk = 500
	for i := 0; i < len(msgs); i += chunk {
		end := min(i+chunk, len(msgs))
		if err := w.WriteMessages(ctx, msgs[i:end]...); err != nil {
			return fmt.Errorf("publishing rows %d-%d: %w", i, end, err)
		}
	}
	log.Printf("published %d records to %s", len(msgs), *topic)
	return nil
}

func readCSV(path, defaultState string) ([]domain.FireRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	colIdx := map[string]int{}
	for i, h := range header {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := colIdx["latitude"]; !ok {
		return nil, errors.New("not a FIRMS export: no latitude column")
	}

	var recs []domain.FireRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec := domain.FireRecord{
			Latitude:   get(row, colIdx, "latitude"),
			Longitude:  get(row, colIdx, "longitude"),
			Brightness: firstOf(row, colIdx, "brightness", "bright_ti4"),
			Scan:       get(row, colIdx, "scan"),
			Track:      get(row, colIdx, "track"),
			AcqDate:    get(row, colIdx, "acq_date"),
			AcqTime:    get(row, colIdx, "acq_time"),
			Satellite:  get(row, colIdx, "satellite"),
			Instrument: get(row, colIdx, "instrument"),
			Confidence: get(row, colIdx, "confidence"),
			FRP:        get(row, colIdx, "frp"),
			DayNight:   get(row, colIdx, "daynight"),
			State:      get(row, colIdx, "state"),
		}
		if rec.State == "" {
			rec.State = defaultState
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

type replayStats struct {
	valid      int
	invalid    int
	confidence map[string]int
	satellite  map[string]int
}

// encode marshals each record and checks it with the same parser the service
// uses, so a dry run reports the rows the pipeline would skip.
func encode(records []domain.FireRecord) ([]kafka.Message, replayStats) {
	stats := replayStats{confidence: map[string]int{}, satellite: map[string]int{}}
	msgs := make([]kafka.Message, 0, len(records))
	for _, rec := range records {
		value, err := json.Marshal(rec)
		if err != nil {
			stats.invalid++
			continue
		}
		det, err := domain.ParseFireRecord(domain.RawEvent{Value: value})
		if err != nil {
			stats.invalid++
			continue
		}
		stats.valid++
		stats.confidence[string(det.ConfidenceClass())]++
		stats.satellite[det.Satellite]++
		msgs = append(msgs, kafka.Message{
			Key:   []byte(rec.Latitude + "," + rec.Longitude),
			Value: value,
		})
	}
	return msgs, stats
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func firstOf(row []string, idx map[string]int, cols ...string) string {
	for _, c := range cols {
		if v := get(row, idx, c); v != "" {
			return v
		}
	}
	return ""
}

func printStats(s replayStats) {
	fmt.Printf("valid: %d  skipped: %d\n", s.valid, s.invalid)
	printCounts("confidence", s.confidence)
	printCounts("satellite", s.satellite)
}

func printCounts(label string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Printf("%s:\n", label)
	for _, k := range keys {
		fmt.Printf("  %-10s %d\n", k, counts[k])
	}
}
