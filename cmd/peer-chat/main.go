package main

import "github.com/rudransh-shrivastava/peer-chat/internal/cmd"

func main() {
	cmd.Execute()
}
