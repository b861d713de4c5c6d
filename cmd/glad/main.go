package main

import (
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/Soberat/GLAD/cmd/glad/app"
)

func main() {
	if err := app.NewApp().Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
