package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"sensorgate/cmd/cli/command"
)

// 打印欢迎信息
func printWelcomeMessage() {
	fmt.Println("Welcome to the sensorgate CLI REPL! Type 'exit' to quit.")
	fmt.Println("Type 'help' to see the list of available commands.")
}

// 打印帮助信息
func printHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  snap [--address --port --unit --register --pos]  Read a sensor once and print the report.")
	fmt.Println("  alerts                                          List registered alert specs.")
	fmt.Println("  help                                            Show this help message.")
	fmt.Println("  exit                                            Exit the REPL.")
}

func main() {
	scanner := bufio.NewScanner(os.Stdin)
	printWelcomeMessage()

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(input) {
		case "exit":
			fmt.Println("Exiting sensorgate CLI...")
			return
		case "help":
			printHelp()
			continue
		}

		args := strings.Fields(input)
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "snap", "alerts":
			// 每次新建命令, 避免上一次的 flag 值残留
			rootCmd := command.NewRootCommand("yaml")
			rootCmd.SetArgs(args)
			if err := rootCmd.Execute(); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		default:
			fmt.Printf("Unknown command: %s\n", args[0])
			fmt.Println("Type 'help' to see the list of available commands.")
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
	}
}
