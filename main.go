package main

import "tact/internal/app"

func main() {
	app.Main()
}
