package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// render writes a Result to stdout: JSON when piped (scripting), a short
// human line when interactive. A failed result becomes the command error so
// the process exit code reflects it.
func render(res Result) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		if !res.OK {
			return fmt.Errorf("%s", res.Kind)
		}
		return nil
	}

	if !res.OK {
		return fmt.Errorf("%s: %s", res.Kind, res.Message)
	}
	if res.Data != nil {
		data, err := json.MarshalIndent(res.Data, "", "  ")
		if err != nil {
			return fmt.Errorf("render result: %w", err)
		}
		fmt.Println(string(data))
	} else {
		fmt.Println("ok")
	}
	return nil
}
