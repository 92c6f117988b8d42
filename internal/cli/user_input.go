package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// userInputProvider задаёт вопросы через ту же строку ввода, что и консоль.
type userInputProvider struct {
	readLine func() (string, error)
	out      io.Writer
}

func newUserInputProvider(readLine func() (string, error), out io.Writer) *userInputProvider {
	return &userInputProvider{readLine: readLine, out: out}
}

func (p *userInputProvider) AskUser(ctx context.Context, question string) (string, error) {
	fmt.Fprintf(p.out, "\n[Вопрос] %s\n", question)
	fmt.Fprint(p.out, "Ваш ответ: ")

	answerChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		answer, err := p.readLine()
		if err != nil {
			errChan <- err
			return
		}
		answerChan <- strings.TrimSpace(answer)
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errChan:
		return "", err
	case answer := <-answerChan:
		return answer, nil
	}
}

// Confirm возвращает true только на явное "y" или "да".
func (p *userInputProvider) Confirm(ctx context.Context, question string) bool {
	answer, err := p.AskUser(ctx, question+" [y/N]")
	if err != nil {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes", "д", "да":
		return true
	}
	return false
}
