package main

import (
	"os"

	"github.com/fulcrumdata/invoice-pipeline/cmd/invoice-extract/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
