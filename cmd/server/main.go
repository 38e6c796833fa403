package main

import (
	"os"

	"chatrelay/backend/internal/app"
)

func main() {
	os.Exit(app.Run())
}
