package analyzer

const systemPrompt = `You are an expert sales conversation analyst. Always respond with valid JSON only, no markdown or explanations.`

const userPromptFmt = `Analyze this live sales conversation about AI/ML educational courses:

CONVERSATION:
%s

Provide your analysis in ONLY valid JSON format (no markdown, no code blocks):

{
  "sentiment": "positive" OR "neutral" OR "negative",
  "confidence": 0.0 to 1.0,
  "key_points": ["point1", "point2", "point3"],
  "recommendation_to_salesperson": "clear actionable recommendation"
}

Analysis Guidelines:
- sentiment: "positive" if the customer is interested/engaged, "negative" if explicitly rejecting/upset, "neutral" if undecided
- confidence: 0.8+ for clear sentiment, 0.5-0.7 for mixed signals
- key_points: the most important things from the conversation so far
- recommendation: ONE specific action the salesperson should take next`
