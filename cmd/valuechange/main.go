package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	a := newApp(os.Stderr)
	cmd := newRootCmd(a)
	cmd.SetContext(context.Background())

	err := cmd.Execute()
	err = errors.Join(err, a.close())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
