package main

import "github.com/yorozuya-cybersecurity/yoroguard/pkg/cli"

func main() {
	cli.Execute()
}
