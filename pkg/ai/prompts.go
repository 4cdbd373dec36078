package ai

const SeedEntityPrompt = `
# Task Context
You are an assistant that identifies the entities a user question is about, so they can be matched against a knowledge graph extracted from a private document corpus.

# Background Data
- User question: "%s"
- Known topic summaries (may be empty):
%s

# Detailed Task Description & Rules
- List up to %d named entities, concepts, or subjects the question refers to, most central first.
- Use the exact surface form from the question where one exists; otherwise use the most common canonical name.
- Never invent entities that are not implied by the question.
- Do not explain your choices.

# Output Formatting
Return only a bullet list, one entity per line:
- Entity One
- Entity Two
`

const QueryIntentPrompt = `
# Task Context
You are an assistant that restates a user's follow-up question as a single self-contained search phrase, so it can be embedded and matched against a private document corpus.

# Background Data
- Previous answer: "%s"
- Current user question: "%s"

# Detailed Task Description & Rules
- If the current question is vague (pronouns like "it", "they", "there", or follow-ups like "and what about...?"), resolve its meaning by combining it with the previous answer.
- The semantic_term must fully reflect the user's intent in one concise, semantically rich phrase.
- Do not output multiple terms. The semantic_term must be a single well-formed phrase or sentence.

# Output Formatting
Return JSON with the following structure:
{
  "semantic_term": string
}
Output must be valid JSON only (no commentary, no extra text).
`

const ComplexityPrompt = `
# Task Context
You are an assistant that rates how complex a user question is to answer from a document corpus.

# Background Data
- User question: "%s"

# Detailed Task Description & Rules
- A simple lookup of one fact in one document scores near 0.0.
- A question requiring reasoning across several documents, comparisons, aggregation, or multi-step inference scores near 1.0.
- Output a single number between 0.0 and 1.0 and nothing else.

# Output Formatting
0.0
`

const DecomposePrompt = `
# Task Context
You are an assistant that decomposes a complex user question into independent sub-questions for retrieval over a private document corpus.

# Background Data
- User question: "%s"

# Detailed Task Description & Rules
- Produce between 2 and 5 sub-questions.
- Every qualifier, threshold, date range, or constraint in the original question MUST be preserved in at least one sub-question. Never drop "over $10,000", "since 2021", "excluding drafts", or similar qualifiers.
- Each sub-question must be answerable on its own from the corpus.
- Do not introduce facts not present in the original question.

# Output Formatting
Return JSON with this structure:
{
  "sub_questions": ["...", "..."]
}
Output must be valid JSON only (no commentary, no extra text).
`

const RedecomposeConsolidatePrompt = `
# Task Context
You previously decomposed a user question into sub-questions, but a single entity dominates most of them, producing redundant retrieval.

# Background Data
- User question: "%s"
- Previous sub-questions:
%s
- Dominating entities: [%s]

# Detailed Task Description & Rules
- Rewrite the decomposition so that the dominating entities are consolidated into fewer sub-questions, freeing the rest to cover other aspects of the question.
- Keep every qualifier and threshold from the original question.
- Produce between 2 and 5 sub-questions.

# Output Formatting
Return JSON with this structure:
{
  "sub_questions": ["...", "..."]
}
Output must be valid JSON only (no commentary, no extra text).
`

const RedecomposeClarifyPrompt = `
# Task Context
You previously decomposed a user question into sub-questions, but some of them retrieved little or no evidence from the corpus.

# Background Data
- User question: "%s"
- Previous sub-questions:
%s
- Under-evidenced sub-questions:
%s

# Detailed Task Description & Rules
- Rewrite only the under-evidenced sub-questions to be more concrete and better aligned with the vocabulary likely used in business documents; keep the others unchanged.
- Keep every qualifier and threshold from the original question.
- Produce between 2 and 5 sub-questions total.

# Output Formatting
Return JSON with this structure:
{
  "sub_questions": ["...", "..."]
}
Output must be valid JSON only (no commentary, no extra text).
`

const SynthesisRulesPrompt = `
# Detailed Task Description & Rules
- Answer ONLY from the numbered context passages. If the context does not contain the answer, say that the corpus does not contain it.
- Every factual claim MUST carry a citation marker in the form [[N]] where N is the number of the supporting passage.
- The context header states how many distinct documents exist. Never count sections or exhibits of one document as separate documents.
- Never invent citation markers that do not appear in the context.
`

const DetailedReportPrompt = `
# Task Context
You are an analyst answering a question over a private document corpus. Write a thorough, well-structured answer.
%s
# Background Data
%s

# Immediate Task Description or Request
Question: %s

Write a detailed report answering the question, citing every claim.
`

const SummaryPrompt = `
# Task Context
You are an analyst answering a question over a private document corpus. Write a short, direct answer.
%s
# Background Data
%s

# Immediate Task Description or Request
Question: %s

Answer in at most three sentences, citing every claim.
`

const AuditTrailPrompt = `
# Task Context
You are an analyst producing an auditable answer over a private document corpus. For each step of your reasoning, name the passage that supports it.
%s
# Background Data
%s

# Immediate Task Description or Request
Question: %s

Answer as a numbered list of findings. Each finding states one fact, its citation marker, and the document it came from.
`
