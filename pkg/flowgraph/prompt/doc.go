/*
Package prompt renders LLM prompt templates.

# Overview

A Template is plain text with ${name} placeholders. Placeholders are found
once, when the template is created, and rendering substitutes every one of
them in a single pass. Substituted values are never scanned again, so paper
abstracts containing "$" or "${...}" (LaTeX, shell snippets) are inserted
verbatim.

# Basic Usage

	var scorePrompt = prompt.Must(prompt.New("score", `Problem: ${title}

	${description}`))

	text, err := scorePrompt.Render(map[string]any{
	    "title":       p.Title,
	    "description": p.Description,
	})

# Missing Variables

Render fails with *UndefinedVariableError when a placeholder has no value.
A prompt with a literal "${title}" left in it still gets answered by the
model, just badly. Use WithMissingAction to keep or blank missing
placeholders instead:

	t := prompt.Must(prompt.New("greeting", "Hello ${name}",
	    prompt.WithMissingAction(prompt.MissingEmpty)))

# Thread Safety

Templates are immutable after New and safe for concurrent use.
*/
package prompt
