package prompts

// System roles sent ahead of each rendered template.
const (
	OutlineSystem = "You are a narrative architect generating chapter outlines in JSON format. Follow the structure exactly."

	NarrativeSystem = "You are a creative storytelling assistant writing in second-person perspective. " +
		"Write at least 1500 words of detailed, immersive story content. " +
		"DO NOT include any meta-text. Return ONLY pure narrative."

	StorywriterSystem = NarrativeSystem + " Your primary job is to follow the user's story direction exactly as specified. " +
		"The story direction is your most important instruction - prioritize it above all other context."

	EvaluatorSystem = "You are a story safety evaluator. Analyze user decisions and provide judgment with explanation."

	MemorySystem = "You are a narrative summarizer. Create a concise, memory-like summary of multiple story events."
)

const storyHeader = `Title: {{title}}
World/Setting: {{worldName}}
World Description: {{worldDescription}}
Mood & Tropes: {{moodAndTropes}}
Premise: {{premise}}
{{#advancedOptions}}Advanced Options: {{advancedOptions}}{{/advancedOptions}}`

const memoryLines = `{{#longTermMemory}}Long-term Memory (Earlier Chapters): {{longTermMemory}}{{/longTermMemory}}
{{#recentMemory}}Recent Memory (Previous Chapter): {{recentMemory}}{{/recentMemory}}
{{#userFeedback}}User Feedback (Use this to improve): {{userFeedback}}{{/userFeedback}}`

const chapterOutlineTemplate = `
Plan the next chapter of an interactive story. Produce:

1. Chapter Goals: three goals reachable within THIS chapter only
2. Scene Beats: exactly three numbered beats, one or two sentences each
3. Mini-Synopsis: one short paragraph tying the reader's decision to these beats

` + storyHeader + `
Total Chapters: {{totalChapters}}
Current Chapter: {{chapterNumber}}
{{#previousText}}Previous Excerpt: {{previousText}}{{/previousText}}
{{#userDecision}}User Decision: {{userDecision}}{{/userDecision}}
` + memoryLines + `

CONSTRAINTS:
- Plan Chapter {{chapterNumber}} only, never the whole arc.
- Goals must be small and immediate ("meets a mentor", "finds a hidden door"), not world-changing.
- Chapter 1 introduces the main character, their situation and the setting, and only hints at the premise.
- Early chapters build the world, middle chapters develop conflicts and abilities, late chapters move toward resolution.
- Pace the plan to its position: chapter {{chapterNumber}} of {{totalChapters}}.

Respond with this JSON object and nothing else:

{
	"goals": ["<goal 1>", "<goal 2>", "<goal 3>"],
	"beats": [
		{ "beat": 1, "description": "..." },
		{ "beat": 2, "description": "..." },
		{ "beat": 3, "description": "..." }
	],
	"synopsis": "..."
}
`

const narrativeTemplate = `
You are writing Chapter {{chapterNumber}} of a {{totalChapters}}-chapter interactive story.

` + storyHeader + `
{{#previousText}}Context from previous section: {{previousText}}{{/previousText}}
{{#userDecision}}User's previous decision: {{userDecision}}{{/userDecision}}
` + memoryLines + `

Chapter Outline:
Goals: {{goals}}
Beats:
{{beats}}
Synopsis: {{synopsis}}

CONSTRAINTS:
- Write 1500 to 2000 words of immersive prose in the second person; the reader is the main character.
- Follow the goals and beats of the outline, giving each beat several paragraphs.
- Use sensory detail, dialogue and reflection, and vary sentence rhythm.
- End on an open question that asks the reader what they do next. Never list options.
- No chapter titles, numbers, headings or meta-text. Start directly with the story.
- Pace the chapter to its position: chapter {{chapterNumber}} of {{totalChapters}}.
`

const storywriterNarrativeTemplate = `
You are writing Chapter {{chapterNumber}} of a {{totalChapters}}-chapter story for its author.

STORY DIRECTION FOR THIS CHAPTER (follow it exactly, it overrides everything else):
{{storyDirection}}

` + storyHeader + `
{{#previousText}}Context from previous section: {{previousText}}{{/previousText}}
` + memoryLines + `

CONSTRAINTS:
- Write 1500 to 2000 words of immersive prose in the second person.
- Realize every event the direction asks for and do not add developments it contradicts.
- Keep continuity with the previous section and the memories above.
- No chapter titles, numbers, headings or meta-text. Start directly with the story.
- Pace the chapter to its position: chapter {{chapterNumber}} of {{totalChapters}}.
`

const decisionEvaluationTemplate = `
Evaluate the following reader decision in the context of the ongoing story:

Story Context: {{title}} set in {{worldName}}
Premise: {{premise}}
User Decision: {{userDecision}}

Give one judgment:
- CONTINUE: the decision is valid and the story should continue
- UNSAFE: the decision contains inappropriate, harmful or offensive content
- CONCLUDE: the decision naturally ends this storyline (the saga itself continues)
- CLARIFY: the decision is too vague to move the story forward

For UNSAFE or CONCLUDE explain why this timeline ends.
For CLARIFY say what detail would make the decision usable.

Format your response as:
JUDGMENT: [CONTINUE/UNSAFE/CONCLUDE/CLARIFY]
EXPLANATION: [Your explanation here]
`

const memorySummarizationTemplate = `
Summarize the following story summaries into a concise, coherent memory of past events:

{{summaries}}

Create a single paragraph (150 words max) that captures the essential narrative details from these summaries.
Focus on main plot points, character development, and important decisions.
Write in past tense, third person perspective.
`
