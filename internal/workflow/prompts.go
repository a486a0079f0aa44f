package workflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/researchflow/internal/planner"
)

const coordinatorSystemPrompt = `You are a friendly research coordinator. You handle greetings and small
talk yourself, but for any request that needs investigation you MUST call the
handoff_to_planner tool with the research topic and the user's locale.
- Detect the user's language and pass it as a locale like "en-US" or "zh-CN".
- Do not attempt to answer research questions yourself.
- If the user is only chatting, reply briefly and do not call the tool.`

const plannerSystemPromptFmt = `You are a professional deep research planner. Break the user's request
into concrete steps and output STRICT JSON matching:
{"locale":string,"has_enough_context":bool,"thought":string,"title":string,
 "steps":[{"need_search":bool,"title":string,"description":string,"step_type":"research"|"processing"}]}
Rules:
- Use at most %d steps; gather breadth first, then depth.
- "research" steps collect information, "processing" steps compute or analyze.
- Set has_enough_context=true ONLY when the gathered context already answers
  the request fully; then steps may be empty.
- thought restates the request in your own words.
- Write the plan in the user's locale.
- Output the JSON object only, no surrounding prose.`

const reporterSystemPromptFmt = `You are a professional reporter. Write a final report in the user's
locale from ONLY the verified findings below. Structure:
- Title
- Key Points: bulleted highlights
- Overview: short introduction
- Detailed Analysis: organized sections, prefer markdown tables for
  comparisons and data
- Key Citations: list every source at the end in link reference form,
  one per line with a blank line between entries
Do not use inline citations. Do not fabricate information.%s`

const handoffToolName = "handoff_to_planner"

func handoffToolDef() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"research_topic": map[string]interface{}{
				"type":        "string",
				"description": "The topic of the research task to be handed off.",
			},
			"locale": map[string]interface{}{
				"type":        "string",
				"description": "The user's detected language locale (e.g. en-US, zh-CN).",
			},
		},
		"required": []string{"research_topic", "locale"},
	}
}

func plannerSystemPrompt(maxStepNum int) string {
	return fmt.Sprintf(plannerSystemPromptFmt, maxStepNum)
}

func reporterSystemPrompt(reportStyle string) string {
	var style string
	if reportStyle != "" {
		style = fmt.Sprintf("\nAdopt a %s writing style throughout.", reportStyle)
	}
	return fmt.Sprintf(reporterSystemPromptFmt, style)
}

func backgroundInvestigationPrompt(topic, results string) string {
	return fmt.Sprintf("background investigation results of user query:\n%s\n\nquery: %s", results, topic)
}

// stepContext assembles what the worker agent sees: findings so far plus
// the current assignment.
func stepContext(plan *planner.Plan, step *planner.Step, locale string) string {
	var b strings.Builder
	b.WriteString("# Existing Research Findings\n\n")
	for i := range plan.Steps {
		done := &plan.Steps[i]
		if done == step || !done.Completed() {
			continue
		}
		fmt.Fprintf(&b, "## Finding %d: %s\n\n%s\n\n", i+1, done.Title, *done.ExecutionRes)
	}
	b.WriteString("# Current Task\n\n")
	fmt.Fprintf(&b, "## Title\n\n%s\n\n## Description\n\n%s\n\n## Locale\n\n%s\n", step.Title, step.Description, locale)
	return b.String()
}

const researcherCitationReminder = `IMPORTANT: DO NOT include inline citations in the text. Instead, track
all sources and include a References section at the end using link
reference format. Include an empty line between each citation.`

func resourceNotice(uris []string) string {
	return fmt.Sprintf("The user mentioned the following resource files:\n\n%s\n\n"+
		"You MUST use the local_search_tool to retrieve information from the resource files.",
		strings.Join(uris, "\n"))
}

func currentTimeLine() string {
	return "CURRENT_TIME: " + time.Now().Format("Mon Jan 02 2006 15:04:05 -0700")
}
