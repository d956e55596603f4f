package twitter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/michimani/gotwi"
	"github.com/michimani/gotwi/resources"
)

// partialError flattens the errors array X returns alongside a 200.
func partialError(partials []resources.PartialError) error {
	if len(partials) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(partials))
	for _, pe := range partials {
		switch {
		case pe.Detail != nil && *pe.Detail != "":
			msgs = append(msgs, *pe.Detail)
		case pe.Title != nil && *pe.Title != "":
			msgs = append(msgs, *pe.Title)
		case pe.ResourceType != nil:
			msgs = append(msgs, fmt.Sprint(*pe.ResourceType))
		}
	}
	if len(msgs) == 0 {
		return errors.New("unknown partial error")
	}
	return errors.New(strings.Join(msgs, "; "))
}

// apiError replaces gotwi's verbose error with its title, detail and API
// messages.
func apiError(err error) error {
	var gwErr *gotwi.GotwiError
	if !errors.As(err, &gwErr) || gwErr == nil {
		return err
	}

	var parts []string
	for _, s := range []string{gwErr.Title, gwErr.Detail} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	for _, apiErr := range gwErr.APIErrors {
		if apiErr.Message != "" {
			parts = append(parts, apiErr.Message)
		}
	}
	if len(parts) == 0 {
		return err
	}
	return errors.New(strings.Join(parts, "; "))
}
