package segpipe_test

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/go-metrics"

	"github.com/jacoelho/segpipe"
)

func ExamplePipe() {
	w, r, err := segpipe.Pipe(segpipe.WithMetricSink(&metrics.BlackholeSink{}))
	if err != nil {
		panic(err)
	}
	defer r.Close()

	go func() {
		defer w.Close()
		for i := range 5 {
			fmt.Fprintf(w, "message %d\n", i)
		}
	}()

	_, _ = segpipe.CopyTo(context.Background(), r, os.Stdout)
	// Output:
	// message 0
	// message 1
	// message 2
	// message 3
	// message 4
}

func ExampleWriter_Allocate() {
	w, r, err := segpipe.Pipe(segpipe.WithMetricSink(&metrics.BlackholeSink{}))
	if err != nil {
		panic(err)
	}
	defer r.Close()

	region, _ := w.Allocate(5)
	n := copy(region, "hello")
	_ = w.Advance(n)
	_ = w.Flush(context.Background())
	w.Complete(nil)

	res, _ := r.Read(context.Background())
	fmt.Println(string(res.Buffer.Bytes()), res.Completed)
	_ = r.Advance(res.Buffer.Len())
	// Output:
	// hello true
}
