package main

import (
	"browser-automation/internal/bootstrap"
)

func main() {
	bootstrap.NewApp().Run()
}
