// Command redactor redacts personal data from call transcripts.
//
// Every detected entity is replaced in place by a reviewable token such as
// [PERSON_1/Marcus Chen] or [AGE/47 years old]. Mentions of the same person
// within one transcript share an identifier.
//
// Detection runs against a Presidio analyzer, a local Ollama model, or the
// built-in pattern recognizers alone. When the configured backend cannot be
// reached the tool keeps running without detection and, under the default
// fail-open policy, marks every document as unredacted.
//
// Usage:
//
//	# Redact files, writing call.redacted.txt next to each input
//	./redactor redact transcripts/**/*.txt
//
//	# Redact stdin to stdout with patterns only
//	DETECTOR=patterns ./redactor redact - < call.txt
//
//	# Serve the HTTP API
//	API_PORT=8081 ./redactor serve
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd := newRootCommand()
	err := cmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
