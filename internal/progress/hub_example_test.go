package progress

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ExampleHub_Close shows a scrape job's events reaching a sink before Close
// returns.
func ExampleHub_Close() {
	var stages []Stage
	record := SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			stages = append(stages, evt.Stage)
		}
		return nil
	})
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 8, MaxBatchWait: time.Minute}, record)

	job := UUIDToBytes(uuid.MustParse("0190f3c2-7d10-7000-8000-000000000001"))
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	hub.Emit(Event{JobID: job, TS: start, Stage: StageJobStart, Board: "indeed"})
	hub.Emit(Event{JobID: job, TS: start.Add(time.Second), Stage: StagePageDone, Board: "indeed", Page: 1, Postings: 15, StatusClass: Status2xx})
	hub.Emit(Event{JobID: job, TS: start.Add(2 * time.Second), Stage: StageJobDone, Board: "indeed", Postings: 15})

	if err := hub.Close(context.Background()); err != nil {
		fmt.Println("close:", err)
		return
	}
	fmt.Println(stages)
	// Output:
	// [JOB_START PAGE_DONE JOB_DONE]
}

// ExampleSinkFunc tallies postings per board from page completions.
func ExampleSinkFunc() {
	perBoard := map[string]int64{}
	tally := SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StagePageDone {
				perBoard[evt.Board] += evt.Postings
			}
		}
		return nil
	})
	hub := NewHub(Config{BufferSize: 8, MaxBatchEvents: 2, MaxBatchWait: time.Minute}, tally)

	ts := time.Unix(0, 0).UTC()
	for _, evt := range []Event{
		{Stage: StagePageDone, Board: "remoteok", Postings: 40, StatusClass: Status2xx},
		{Stage: StagePageDone, Board: "we_work_remotely", Postings: 25, StatusClass: Status2xx},
		{Stage: StagePageDone, Board: "remoteok", Postings: 0, StatusClass: Status4xx},
	} {
		evt.JobID = UUIDToBytes(uuid.MustParse("0190f3c2-7d10-7000-8000-000000000002"))
		evt.TS = ts
		hub.Emit(evt)
	}
	if err := hub.Close(context.Background()); err != nil {
		fmt.Println("close:", err)
		return
	}

	boards := make([]string, 0, len(perBoard))
	for b := range perBoard {
		boards = append(boards, b)
	}
	sort.Strings(boards)
	for _, b := range boards {
		fmt.Printf("%s: %d\n", b, perBoard[b])
	}
	// Output:
	// remoteok: 40
	// we_work_remotely: 25
}
