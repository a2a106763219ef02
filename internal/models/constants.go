package models

const (
	TruncationMarker = " ..."
	LetterOptions    = "ABCD"
)

var (
	QuizPromptTemplate = `Generate a multiple choice question from this note:
%s

Format as:
Question: <question>
Options: A) <option1> B) <option2> C) <option3> D) <option4>
Answer: <correct_option_letter>`

	// Moods offered by the daily check-in.
	Moods = []string{
		"I'm energetic and focused",
		"I'm okay but not great",
		"A bit tired or distracted",
		"Feeling burned out / overwhelmed",
	}
)
