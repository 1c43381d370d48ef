// Package botlog tails the program's own text log for the /log command.
package botlog

import (
	"bufio"
	"fmt"
	"os"
)

// Tail returns the last n lines of the file at path. It holds at most n
// lines in memory regardless of file size.
func Tail(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("botlog: %v", err)
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		ring[count%n] = sc.Text()
		count++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("botlog: %v", err)
	}

	if count < n {
		return ring[:count], nil
	}

	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, ring[(count+i)%n])
	}
	return out, nil
}
