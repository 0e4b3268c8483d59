// Liveness prober for the client's debug listener. Exits 0 when
// /healthz answers 200 within the timeout, 1 otherwise; meant for
// container healthchecks where a full HTTP client is overkill.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/valyala/fasthttp"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:9384", "debug listener base URL")
	timeout := flag.Duration("timeout", 3*time.Second, "probe timeout")
	flag.Parse()

	c := &fasthttp.Client{
		Name:         "rownak-health",
		ReadTimeout:  *timeout,
		WriteTimeout: *timeout,
	}

	status, body, err := c.GetTimeout(nil, *addr+"/healthz", *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "probe failed: %v\n", err)
		os.Exit(1)
	}
	if status != fasthttp.StatusOK {
		fmt.Fprintf(os.Stderr, "probe failed: status %d\n", status)
		os.Exit(1)
	}
	fmt.Printf("%s\n", body)
}
