package main

import (
	"log"
	"os"

	"mrcrypt/mrcrypt/cli"
)

func main() {
	app := cli.NewApp()
	if err := app.Run(os.Args); err != nil {
		log.Fatalln(err)
	}
}
