// session-gen generates synthetic keystroke event scripts for exercising
// the capture and risk pipeline without manual typing.
//
// Usage:
//
//	go run tools/session-gen.go -output session.jsonl -persona steady
//	go run tools/session-gen.go -output imposter.jsonl -persona imposter -seed 7
//	go run tools/session-gen.go -list
package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"
)

// Persona defines the timing character of a simulated typist.
type Persona struct {
	Name        string
	Description string
	FlightMs    float64 // median interval between presses
	FlightStdMs float64
	DwellMs     float64 // median hold duration
	DwellStdMs  float64
	PauseProb   float64 // probability of a thinking pause before a key
	PauseMaxMs  float64
}

var personas = map[string]Persona{
	"steady": {
		Name:        "Steady Typist",
		Description: "Consistent touch typist, tight timing distribution",
		FlightMs:    160,
		FlightStdMs: 30,
		DwellMs:     85,
		DwellStdMs:  15,
		PauseProb:   0.02,
		PauseMaxMs:  800,
	},
	"fast": {
		Name:        "Fast Typist",
		Description: "Quick pace with occasional bursts",
		FlightMs:    95,
		FlightStdMs: 25,
		DwellMs:     60,
		DwellStdMs:  12,
		PauseProb:   0.01,
		PauseMaxMs:  500,
	},
	"erratic": {
		Name:        "Erratic Typist",
		Description: "Hunt-and-peck with wide variation and frequent pauses",
		FlightMs:    420,
		FlightStdMs: 220,
		DwellMs:     130,
		DwellStdMs:  50,
		PauseProb:   0.12,
		PauseMaxMs:  2500,
	},
	"imposter": {
		Name:        "Imposter",
		Description: "Markedly different cadence from the steady persona",
		FlightMs:    340,
		FlightStdMs: 90,
		DwellMs:     150,
		DwellStdMs:  35,
		PauseProb:   0.08,
		PauseMaxMs:  1500,
	},
	"replay-attack": {
		Name:        "Replay Attack",
		Description: "Machine-perfect timing with zero variation",
		FlightMs:    120,
		FlightStdMs: 0,
		DwellMs:     70,
		DwellStdMs:  0,
		PauseProb:   0,
		PauseMaxMs:  0,
	},
}

const defaultPhrase = "zero trust systems rely on continuous verification"

func main() {
	var (
		outputPath   = flag.String("output", "session.jsonl", "Output script path")
		personaName  = flag.String("persona", "steady", "Typing persona to simulate")
		phrase       = flag.String("phrase", defaultPhrase, "Phrase to type")
		seed         = flag.Int64("seed", 0, "Random seed; 0 = use current time")
		listPersonas = flag.Bool("list", false, "List available personas")
	)
	flag.Parse()

	if *listPersonas {
		fmt.Println("Available personas:")
		for name, p := range personas {
			fmt.Printf("  %-15s %s\n", name, p.Description)
		}
		os.Exit(0)
	}

	persona, ok := personas[*personaName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown persona: %s\n", *personaName)
		fmt.Fprintf(os.Stderr, "Use -list to see available personas\n")
		os.Exit(1)
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	fmt.Printf("Generating session for persona: %s\n", persona.Name)
	fmt.Printf("Random seed: %d\n", *seed)

	script := generate(rng, persona, *phrase)

	f, err := os.Create(*outputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating output: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()
	if err := writeScript(f, script); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing script: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Wrote %d events to %s\n", len(script), *outputPath)
	printStats(script)
}

// event mirrors the capture package's JSONL script format.
type event struct {
	Kind string  `json:"kind"`
	Char string  `json:"char,omitempty"`
	Time float64 `json:"time"`
}

// generate builds press/release pairs for the phrase followed by the
// ":q" escape sequence, with per-key sampled flight and dwell times.
func generate(rng *rand.Rand, p Persona, phrase string) []event {
	var script []event
	t := 0.0
	for _, c := range phrase + ":q" {
		if rng.Float64() < p.PauseProb {
			t += rng.Float64() * p.PauseMaxMs / 1000
		}

		dwell := gaussianSample(rng, p.DwellMs, p.DwellStdMs) / 1000
		script = append(script,
			event{Kind: "press", Char: string(c), Time: t},
			event{Kind: "release", Char: string(c), Time: t + dwell},
		)

		t += gaussianSample(rng, p.FlightMs, p.FlightStdMs) / 1000
	}
	return script
}

// gaussianSample draws a positive sample around the median; a hard floor
// keeps dwell times physically plausible.
func gaussianSample(rng *rand.Rand, median, stdDev float64) float64 {
	v := median + rng.NormFloat64()*stdDev
	if v < 10 {
		v = 10
	}
	return v
}

func writeScript(f *os.File, script []event) error {
	for _, ev := range script {
		line := fmt.Sprintf("{\"kind\":%q,\"char\":%q,\"time\":%.6f}\n", ev.Kind, ev.Char, ev.Time)
		if _, err := f.WriteString(line); err != nil {
			return err
		}
	}
	return nil
}

func printStats(script []event) {
	var flights []float64
	lastPress := -1.0
	for _, ev := range script {
		if ev.Kind != "press" {
			continue
		}
		if lastPress >= 0 {
			flights = append(flights, ev.Time-lastPress)
		}
		lastPress = ev.Time
	}
	if len(flights) < 2 {
		return
	}

	var sum, sumSq float64
	for _, v := range flights {
		sum += v
		sumSq += v * v
	}
	mean := sum / float64(len(flights))
	stdDev := math.Sqrt(sumSq/float64(len(flights)) - mean*mean)

	fmt.Println("\nStatistics:")
	fmt.Printf("  Keystrokes:      %d\n", len(flights)+1)
	fmt.Printf("  Flight mean:     %.3f seconds\n", mean)
	fmt.Printf("  Flight stddev:   %.3f seconds\n", stdDev)
	fmt.Printf("  Session length:  %.1f seconds\n", script[len(script)-1].Time)
}
