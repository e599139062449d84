package logger

import (
	"log"
	"os"
)

// New returns a logger writing to the given file, or to stdout when path
// is empty. Failing to open the log file is a bring-up problem, so it is
// fatal.
func New(path, prefix string) *log.Logger {
	if len(path) == 0 {
		return log.New(os.Stdout, prefix+" ", log.Ldate|log.Ltime|log.Lshortfile)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0666)
	if err != nil {
		log.Fatal(err)
	}
	l := log.New(f, prefix+" ", log.Ldate|log.Ltime|log.Lshortfile)
	l.Printf("log opened")
	return l
}
