package main

import "github.com/recallai/separate-streams-recorder/internal/app"

func main() {
	app.Main()
}
