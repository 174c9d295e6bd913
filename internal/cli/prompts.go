package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/shopspring/decimal"

	"github.com/dyike/t0quant/internal/dataflows"
	"github.com/dyike/t0quant/internal/models"
	"github.com/dyike/t0quant/internal/t0"
)

const (
	actionSimulate = "Simulate a symbol"
	actionSweep    = "Sweep open gap thresholds"
	actionRange    = "Intraday range statistics"
	actionHistory  = "Browse recorded runs"
	actionExit     = "Exit"
)

// PromptForAction asks what to do next
func PromptForAction() (string, error) {
	var choice string
	prompt := &survey.Select{
		Message: "What would you like to do?",
		Options: []string{actionSimulate, actionSweep, actionRange, actionHistory, actionExit},
		Default: actionSimulate,
	}
	err := survey.AskOne(prompt, &choice)
	return choice, err
}

// PromptForSymbol prompts for a six digit A-share code
func PromptForSymbol() (string, error) {
	var symbol string
	prompt := &survey.Input{
		Message: "Stock code (e.g. 002780, 600519):",
		Help:    "Six digits. Prefix with index: for an index, e.g. index:000300",
	}
	if err := survey.AskOne(prompt, &symbol, survey.WithValidator(validateSymbolAnswer)); err != nil {
		return "", err
	}
	return dataflows.NormalizeSymbol(symbol), nil
}

func validateSymbolAnswer(val any) error {
	str, ok := val.(string)
	if !ok {
		return fmt.Errorf("expected text, got %T", val)
	}
	if strings.TrimSpace(str) == "" {
		return fmt.Errorf("stock code cannot be empty")
	}
	_, err := dataflows.ParseSymbol(str)
	return err
}

func validateDateAnswer(val any) error {
	str, _ := val.(string)
	if strings.TrimSpace(str) == "" {
		return nil
	}
	day, err := dataflows.ParseDateString(str)
	if err != nil {
		return fmt.Errorf("use YYYY-MM-DD")
	}
	if day.After(time.Now()) {
		return fmt.Errorf("date cannot be in the future")
	}
	return nil
}

func validateDecimalAnswer(val any) error {
	str, _ := val.(string)
	if _, err := decimal.NewFromString(strings.TrimSpace(str)); err != nil {
		return fmt.Errorf("not a number: %q", str)
	}
	return nil
}

// PromptForDateRange asks for the backtest window, defaulting to the last year
func PromptForDateRange() (time.Time, time.Time, error) {
	end := today()
	answers := struct {
		Start string
		End   string
	}{}
	questions := []*survey.Question{
		{
			Name:     "start",
			Prompt:   &survey.Input{Message: "Start date (YYYY-MM-DD):", Default: end.AddDate(-1, 0, 0).Format(models.DateLayout)},
			Validate: validateDateAnswer,
		},
		{
			Name:     "end",
			Prompt:   &survey.Input{Message: "End date (YYYY-MM-DD):", Default: end.Format(models.DateLayout)},
			Validate: validateDateAnswer,
		},
	}
	if err := survey.Ask(questions, &answers); err != nil {
		return time.Time{}, time.Time{}, err
	}

	start, err := dataflows.ParseDateString(answers.Start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end, err = dataflows.ParseDateString(answers.End); err != nil {
		return time.Time{}, time.Time{}, err
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end %s is before start %s", answers.End, answers.Start)
	}
	return start, end, nil
}

// PromptForStrategy shows the configured thresholds and lets the user edit them
func PromptForStrategy(base t0.Params) (t0.Params, error) {
	keep := true
	confirm := &survey.Confirm{
		Message: fmt.Sprintf("Use configured strategy (gap %s/%s, intraday %s/%s, baseline %d)?",
			base.OpenGapLow, base.OpenGapHigh, base.IntradayFall, base.IntradayRise, base.BaselineShares),
		Default: true,
	}
	if err := survey.AskOne(confirm, &keep); err != nil {
		return t0.Params{}, err
	}
	if keep {
		return base, nil
	}

	answers := struct {
		GapLow   string `survey:"gap_low"`
		GapHigh  string `survey:"gap_high"`
		Fall     string
		Rise     string
		Notional string
	}{}
	ask := func(name, message string, def decimal.Decimal) *survey.Question {
		return &survey.Question{
			Name:     name,
			Prompt:   &survey.Input{Message: message, Default: def.String()},
			Validate: validateDecimalAnswer,
		}
	}
	questions := []*survey.Question{
		ask("gap_low", "Open gap down threshold:", base.OpenGapLow),
		ask("gap_high", "Open gap up threshold:", base.OpenGapHigh),
		ask("fall", "Intraday fall threshold:", base.IntradayFall),
		ask("rise", "Intraday rise threshold:", base.IntradayRise),
		ask("notional", "Notional per trade:", base.TradeNotional),
	}
	if err := survey.Ask(questions, &answers); err != nil {
		return t0.Params{}, err
	}

	p := base
	p.OpenGapLow = decimal.RequireFromString(strings.TrimSpace(answers.GapLow))
	p.OpenGapHigh = decimal.RequireFromString(strings.TrimSpace(answers.GapHigh))
	p.IntradayFall = decimal.RequireFromString(strings.TrimSpace(answers.Fall))
	p.IntradayRise = decimal.RequireFromString(strings.TrimSpace(answers.Rise))
	p.TradeNotional = decimal.RequireFromString(strings.TrimSpace(answers.Notional))
	return p, p.Validate()
}

// PromptForConfirmation asks a yes/no question
func PromptForConfirmation(message string, def bool) (bool, error) {
	answer := def
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &answer)
	return answer, err
}

// PromptForRunID lets the user pick one of the listed runs
func PromptForRunID(ids []string) (string, error) {
	var id string
	prompt := &survey.Select{
		Message: "Show run:",
		Options: ids,
	}
	err := survey.AskOne(prompt, &id)
	return id, err
}
