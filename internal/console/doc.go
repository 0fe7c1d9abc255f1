// Package console is the operator command line for the device link.
//
// Commands are plain words: "esp32_1 7" or "1 7" sends 7 to the first
// device, "status" prints the connection and each device's last value. On a
// terminal the console uses go-prompt for history and completion; piped
// input is executed line by line.
//
// In terminal mode go-prompt owns SIGINT and SIGTERM and exits the process
// directly. Use "quit" for an orderly shutdown.
package console
